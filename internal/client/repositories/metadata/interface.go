// Package metadata stores small key/value records of the local client,
// such as the signed-in user's credentials and sync watermarks.
package metadata

import (
	"context"
)

// Well-known keys.
const (
	KeyCredentials = "credentials"
	KeyLastSync    = "last_sync"
)

type Repository interface {
	// Get returns (nil, nil) when key is absent.
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context) (map[string][]byte, error)
	Clear(ctx context.Context) error
}
