//go:build windows

package assetdb

import "golang.org/x/sys/windows"

// scheduleDeferredDelete asks the OS to remove path on the next reboot,
// for handles that outlive the process.
func scheduleDeferredDelete(path string) (bool, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return false, err
	}
	if err := windows.MoveFileEx(p, nil, windows.MOVEFILE_DELAY_UNTIL_REBOOT); err != nil {
		return false, err
	}
	return true, nil
}
