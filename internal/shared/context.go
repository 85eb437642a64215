package shared

import "context"

// RequesterHeader carries the identity established by the upstream
// authenticating proxy. Identity proofing itself happens before requests
// reach this service.
const RequesterHeader = "X-Requester-ID"

type requesterContextKey struct{}

// ContextWithRequester stores the requester identifier in context.
func ContextWithRequester(ctx context.Context, requesterID string) context.Context {
	return context.WithValue(ctx, requesterContextKey{}, requesterID)
}

// RequesterFromContext extracts the requester identifier from context.
// Returns the empty string when no identity was established upstream.
func RequesterFromContext(ctx context.Context) string {
	requesterID, _ := ctx.Value(requesterContextKey{}).(string)
	return requesterID
}
