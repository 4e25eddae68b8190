package cidrefs

import "context"

// Repository is the node-wide CID reference table. Increments and
// decrements are single statements so concurrent callers serialize per cid.
type Repository interface {
	Increase(ctx context.Context, cid string, delta int64) error
	// Decrease reports removed=true when the row is gone afterwards,
	// including when it did not exist.
	Decrease(ctx context.Context, cid string, delta int64) (removed bool, err error)
	// Count is 0 for unknown cids.
	Count(ctx context.Context, cid string) (int64, error)
}
