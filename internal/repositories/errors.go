package repositories

import "errors"

// Common repository errors
var (
	ErrCreateFailed = errors.New("failed to create record")
	ErrDuplicateKey = errors.New("duplicate key violation")
	ErrClaimFailed  = errors.New("failed to claim events")
	ErrUpsertFailed = errors.New("failed to upsert metric")
)
