//go:build !windows

package assetdb

// scheduleDeferredDelete reports no deferred-deletion support. POSIX
// unlink succeeds with open handles, so there is nothing to defer.
func scheduleDeferredDelete(path string) (bool, error) {
	return false, nil
}
