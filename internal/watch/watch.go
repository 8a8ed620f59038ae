// Package watch triggers gateway reloads when the registry changes, either
// by polling the production reference or by listening for promotion
// announcements on redis.
package watch

import (
	"context"

	"noshowd/internal/model"
	"noshowd/pkg/types"
)

// Target is the gateway surface the watchers drive.
type Target interface {
	ModelName() string
	Active() *model.Handle
	Reload(ctx context.Context) (types.ReloadResult, error)
}

// Resolver resolves the production reference of a model.
type Resolver interface {
	ResolveProduction(ctx context.Context, name string) (model.Reference, error)
}
