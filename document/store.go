package document

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

var (
	// ErrUpload wraps blob store failures.
	ErrUpload = errors.New("document: blob upload failed")
	// ErrBlobNotFound is returned when the store has no blob for the id.
	ErrBlobNotFound = errors.New("document: blob not found")
)

// Store is the content-addressed blob storage the pipeline writes to.
type Store interface {
	Put(ctx context.Context, data []byte, mime string) (string, error)
	Get(ctx context.Context, id string) ([]byte, error)
	URL(id string) string
}

// BlobID is the content address: hex sha256 of the bytes.
func BlobID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HTTPStore talks to the blob service over HTTP with bounded round trips.
type HTTPStore struct {
	baseURL string
	client  *http.Client
}

func NewHTTPStore(baseURL string, timeout time.Duration) *HTTPStore {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPStore{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// Put uploads the blob under its content address. Re-uploading identical
// content is a no-op on the server side, which is what makes document
// records safe to supersede.
func (s *HTTPStore) Put(ctx context.Context, data []byte, mime string) (string, error) {
	id := BlobID(data)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.blobURL(id), bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: build request: %v", ErrUpload, err)
	}
	req.Header.Set("Content-Type", mime)

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUpload, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return "", fmt.Errorf("%w: status %d", ErrUpload, resp.StatusCode)
	}
	return id, nil
}

// Get fetches blob bytes at delivery time.
func (s *HTTPStore) Get(ctx context.Context, id string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.blobURL(id), nil)
	if err != nil {
		return nil, fmt.Errorf("document: build blob request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("document: fetch blob %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBlobNotFound
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("document: fetch blob %s: status %d", id, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("document: read blob %s: %w", id, err)
	}
	return data, nil
}

func (s *HTTPStore) URL(id string) string {
	return s.blobURL(id)
}

func (s *HTTPStore) blobURL(id string) string {
	return fmt.Sprintf("%s/blobs/%s", s.baseURL, id)
}
