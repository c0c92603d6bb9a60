package client

import (
	"context"

	"cloud.google.com/go/storage"
)

// GCSClient stores audio blobs in Google Cloud Storage.
type GCSClient struct {
	client     *storage.Client
	bucketName string
}

// NewGCSClient creates a new storage client.
func NewGCSClient(ctx context.Context, bucketName string) (*GCSClient, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, err
	}

	return &GCSClient{
		client:     client,
		bucketName: bucketName,
	}, nil
}

// Close closes the client.
func (c *GCSClient) Close() {
	if c.client != nil {
		c.client.Close()
	}
}

// Upload uploads data to cloud storage and returns the object URL.
func (c *GCSClient) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	obj := c.client.Bucket(c.bucketName).Object(key)
	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	if _, err := w.Write(data); err != nil {
		w.Close()
		return "", err
	}

	if err := w.Close(); err != nil {
		return "", err
	}

	return "gs://" + c.bucketName + "/" + key, nil
}

// Delete deletes an object from cloud storage.
func (c *GCSClient) Delete(ctx context.Context, key string) error {
	return c.client.Bucket(c.bucketName).Object(key).Delete(ctx)
}
