package upload

import "context"

// Uploader publishes local files to remote object storage.
type Uploader interface {
	// Preflight verifies that the remote storage is reachable and writable.
	// Writes and removes a small test object to fail fast on
	// misconfiguration.
	Preflight(ctx context.Context) error

	// Upload stores the content of localPath under key. The backend decides
	// the access policy of the stored object.
	Upload(ctx context.Context, localPath, key string) error
}
