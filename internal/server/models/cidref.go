package models

// CidRef counts the references that keep a CID pinned. Count is at least 1
// while the row exists.
type CidRef struct {
	CID       string
	Count     int64
	CreatedAt int64
	UpdatedAt int64
}
