package auth

import (
	"context"

	"github.com/mind-engage/mindengage-examprep/internal/exam"
)

type ctxKey string

const (
	ctxKeySub      ctxKey = "sub"
	ctxKeyIdentity ctxKey = "identity"
)

func WithSubject(ctx context.Context, sub string) context.Context {
	return context.WithValue(ctx, ctxKeySub, sub)
}

func SubjectFromContext(ctx context.Context) string {
	if v := ctx.Value(ctxKeySub); v != nil {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func WithIdentity(ctx context.Context, id exam.Identity) context.Context {
	return context.WithValue(ctx, ctxKeyIdentity, id)
}

// IdentityFromContext returns the caller's identity; the zero Identity is
// anonymous.
func IdentityFromContext(ctx context.Context) exam.Identity {
	if v := ctx.Value(ctxKeyIdentity); v != nil {
		if id, ok := v.(exam.Identity); ok {
			return id
		}
	}
	return exam.Identity{}
}
