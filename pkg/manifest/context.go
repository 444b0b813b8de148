package manifest

import "context"

type ctxKey struct{}

// NewContext returns a copy of ctx carrying m, so transports can see
// manifest-wide settings such as the loader
func NewContext(ctx context.Context, m *Manifest) context.Context {
	return context.WithValue(ctx, ctxKey{}, m)
}

// FromContext returns the manifest stored by NewContext, or nil
func FromContext(ctx context.Context) *Manifest {
	m, _ := ctx.Value(ctxKey{}).(*Manifest)
	return m
}
