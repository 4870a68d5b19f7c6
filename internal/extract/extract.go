// Package extract turns a receipt photo into structured fields using an
// OpenAI-compatible vision model.
package extract

import (
	"context"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/susu3304/splitbot/internal/receipt"
)

var (
	ErrEmptyImage           = errors.New("empty image")
	ErrUnsupportedMediaType = errors.New("unsupported media type")
)

// Extractor reads a receipt image. Implementations must not retain data.
type Extractor interface {
	Extract(ctx context.Context, data []byte, mimeType string) (receipt.Raw, error)
}

// Kind classifies an extraction failure.
type Kind int

const (
	KindTransient Kind = iota + 1
	KindMalformedResponse
	KindRemoteAuth
	KindRejected
	KindNotAReceipt
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformedResponse:
		return "malformed_response"
	case KindRemoteAuth:
		return "remote_auth"
	case KindRejected:
		return "rejected"
	case KindNotAReceipt:
		return "not_a_receipt"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Failure is returned for every error that came from, or after, the remote
// call.
type Failure struct {
	Kind Kind
	Err  error
}

func (f *Failure) Error() string {
	if f.Err == nil {
		return "extract: " + f.Kind.String()
	}
	return fmt.Sprintf("extract: %s: %v", f.Kind, f.Err)
}

func (f *Failure) Unwrap() error { return f.Err }

// KindOf returns the failure kind carried by err, if any.
func KindOf(err error) (Kind, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f.Kind, true
	}
	return 0, false
}

var supportedTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// NormalizeMIME lower-cases mimeType, drops parameters and maps known
// aliases. It fails with ErrUnsupportedMediaType for anything outside the
// image allowlist.
func NormalizeMIME(mimeType string) (string, error) {
	mt, _, err := mime.ParseMediaType(strings.TrimSpace(mimeType))
	if err != nil {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mimeType)
	}
	mt = strings.ToLower(mt)
	switch mt {
	case "image/jpg", "image/pjpeg":
		mt = "image/jpeg"
	}
	if !supportedTypes[mt] {
		return "", fmt.Errorf("%w: %q", ErrUnsupportedMediaType, mimeType)
	}
	return mt, nil
}

// checkInput runs the local checks that happen before any remote call.
func checkInput(data []byte, mimeType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	return NormalizeMIME(mimeType)
}

// stripFences returns the body of the first ``` block in s, or s itself
// when there is none.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	start := strings.Index(s, "```")
	if start < 0 {
		return s
	}
	body := s[start+3:]
	if nl := strings.IndexByte(body, '\n'); nl >= 0 && !strings.ContainsAny(body[:nl], "{[") {
		body = body[nl+1:]
	} else {
		body = strings.TrimPrefix(body, "json")
	}
	if end := strings.Index(body, "```"); end >= 0 {
		body = body[:end]
	}
	return strings.TrimSpace(body)
}

// parseReply decodes model output into a Raw record.
func parseReply(content string) (receipt.Raw, error) {
	raw, err := receipt.Decode([]byte(stripFences(content)))
	if err != nil {
		return receipt.Raw{}, &Failure{Kind: KindMalformedResponse, Err: err}
	}
	if raw.IsReceipt != nil && !*raw.IsReceipt {
		return receipt.Raw{}, &Failure{Kind: KindNotAReceipt}
	}
	return raw, nil
}
