package shared

import "context"

// StoreContext carries the identity resolved by the upstream auth gateway.
type StoreContext struct {
	ActorID int64
	StoreID int64
}

type storeContextKey struct{}

// ContextWithStore stores the resolved store context.
func ContextWithStore(ctx context.Context, sc StoreContext) context.Context {
	return context.WithValue(ctx, storeContextKey{}, sc)
}

// StoreFromContext extracts the store context. ok is false when absent.
func StoreFromContext(ctx context.Context) (StoreContext, bool) {
	sc, ok := ctx.Value(storeContextKey{}).(StoreContext)
	if !ok || sc.StoreID == 0 {
		return StoreContext{}, false
	}
	return sc, true
}

// RequireStore returns the store context or ErrUnauthorized.
func RequireStore(ctx context.Context) (StoreContext, error) {
	sc, ok := StoreFromContext(ctx)
	if !ok {
		return StoreContext{}, ErrUnauthorized
	}
	return sc, nil
}
