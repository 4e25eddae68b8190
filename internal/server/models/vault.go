// Package models defines the management rows persisted by the node.
// Timestamps are unix seconds.
package models

const (
	VaultStateRunning = "running"
	VaultStateFrozen  = "frozen"
	VaultStateRemoved = "removed"
)

// Vault is the per-user subscription with its quota counters.
// EndsAt is -1 for plans that never end.
type Vault struct {
	UserDID              string
	PlanName             string
	QuotaBytes           int64
	FilesUsedBytes       int64
	DBUsedBytes          int64
	StartedAt            int64
	EndsAt               int64
	State                string
	LastAccessAt         int64
	CreatedFromPromotion bool
	CreatedAt            int64
	UpdatedAt            int64
}

// UsedBytes is the storage counted against the quota.
func (v *Vault) UsedBytes() int64 { return v.FilesUsedBytes + v.DBUsedBytes }

// Expired reports a paid period that is over at now.
func (v *Vault) Expired(now int64) bool { return v.EndsAt > 0 && v.EndsAt < now }
