package services

import "context"

// StreamOpener opens analysis event streams. The returned source is owned by
// the caller, who must Close it.
type StreamOpener interface {
	Open(ctx context.Context, req StreamRequest) (*EventSource, error)
}

// CredentialProvider supplies the optional bearer token attached to stream
// requests. An empty token means the request is sent unauthenticated.
type CredentialProvider interface {
	BearerToken() string
}

// Compile-time interface verification
var _ StreamOpener = (*AnalysisStreamService)(nil)
var _ CredentialProvider = StaticCredentials("")
