package services

// StaticCredentials is a fixed bearer token, typically loaded from configuration
type StaticCredentials string

// BearerToken returns the configured token
func (c StaticCredentials) BearerToken() string {
	return string(c)
}
