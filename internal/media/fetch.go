// Package media downloads user-uploaded images for the transports.
package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
)

// ErrTooLarge is returned when the body exceeds the fetcher's limit.
var ErrTooLarge = errors.New("media too large")

type Fetcher struct {
	Client   *http.Client
	MaxBytes int64
}

// Fetch downloads url. declaredType is used as the media type when set,
// otherwise the type is sniffed from the content.
func (f Fetcher) Fetch(ctx context.Context, url, declaredType string) ([]byte, string, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, f.MaxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	if int64(len(data)) > f.MaxBytes {
		return nil, "", fmt.Errorf("%w: over %d bytes", ErrTooLarge, f.MaxBytes)
	}

	mimeType := declaredType
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}
