package assetdb

import "time"

// StatusSnapshot reports store occupancy for health surfaces
type StatusSnapshot struct {
	Path        string `json:"path"`
	Initialized bool   `json:"initialized"`
	Resetting   bool   `json:"resetting"`

	ActiveConns   int `json:"activeConns"`
	IdleConns     int `json:"idleConns"`
	MaxConns      int `json:"maxConns"`
	InflightUnits int `json:"inflightUnits"`
	ActiveTxns    int `json:"activeTxns"`
	TrackedLocks  int `json:"trackedLocks"`

	ConnectTimeout time.Duration `json:"connectTimeout"`
	QueryTimeout   time.Duration `json:"queryTimeout"`
	RunTimeout     time.Duration `json:"runTimeout"`
}
