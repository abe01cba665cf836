package middleware

import "context"

type contextKey struct{ name string }

var principalKey = contextKey{"principal"}

// Principal is the authenticated caller, taken from a verified access token.
type Principal struct {
	Subject string // external IdP subject
	UserID  string // internal user id
	Email   string
	Name    string
}

// WithPrincipal returns a context carrying p.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// PrincipalFrom returns the principal from ctx and true if the request was authenticated.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok && p.Subject != ""
}

// SubjectFrom returns the authenticated subject from ctx, or "" if none.
func SubjectFrom(ctx context.Context) string {
	p, _ := PrincipalFrom(ctx)
	return p.Subject
}
