package client

import "context"

// ObjectStore is the contract the pipeline uses for audio blobs. Both the
// Cloudflare R2 and Google Cloud Storage clients implement it.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, key string) error
}
