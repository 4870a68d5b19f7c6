package media

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jpegHeader = []byte("\xff\xd8\xff\xe0\x00\x10JFIF\x00")

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/receipt":
			w.Write(jpegHeader)
		case "/big":
			w.Write([]byte(strings.Repeat("x", 100)))
		case "/slow":
			time.Sleep(200 * time.Millisecond)
			w.Write(jpegHeader)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := Fetcher{Client: srv.Client(), MaxBytes: 64}

	t.Run("sniffed", func(t *testing.T) {
		data, mimeType, err := f.Fetch(context.Background(), srv.URL+"/receipt", "")
		require.NoError(t, err)
		assert.Equal(t, jpegHeader, data)
		assert.Equal(t, "image/jpeg", mimeType)
	})

	t.Run("declared type wins", func(t *testing.T) {
		_, mimeType, err := f.Fetch(context.Background(), srv.URL+"/receipt", "image/webp")
		require.NoError(t, err)
		assert.Equal(t, "image/webp", mimeType)
	})

	t.Run("too large", func(t *testing.T) {
		_, _, err := f.Fetch(context.Background(), srv.URL+"/big", "")
		assert.True(t, errors.Is(err, ErrTooLarge))
	})

	t.Run("not found", func(t *testing.T) {
		_, _, err := f.Fetch(context.Background(), srv.URL+"/missing", "")
		require.Error(t, err)
		assert.False(t, errors.Is(err, ErrTooLarge))
	})

	t.Run("deadline", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
		defer cancel()
		_, _, err := f.Fetch(ctx, srv.URL+"/slow", "")
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
