// Package upload defines the object-storage uploader surface used by the
// export pipeline.
package upload

import "context"

// Uploader pushes an export batch to object storage and returns its public
// URL.
type Uploader interface {
	// Upload writes data under objectKey and returns the publicly
	// reachable URL of the stored object.
	Upload(ctx context.Context, objectKey string, data []byte) (string, error)
}

// MissingCredentialsError indicates the uploader was configured without the
// credentials it needs. Distinct from transport failures so callers can
// surface misconfiguration instead of retrying.
type MissingCredentialsError struct {
	Field string
}

func (e *MissingCredentialsError) Error() string {
	return "missing credential: " + e.Field
}
