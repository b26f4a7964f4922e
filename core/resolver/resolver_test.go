package resolver

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileID(t *testing.T) {
	tests := []struct {
		name string
		link string
		want string
		ok   bool
	}{
		{"path form", "https://drive.example.com/file/d/a1B2-c3_d4/view", "a1B2-c3_d4", true},
		{"query form", "https://drive.example.com/uc?id=xYz_123&export=download", "xYz_123", true},
		{"bare id param", "id=abc123", "abc123", true},
		{"no id", "https://example.com/files/report.pdf", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, ok := FileID(tt.link)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, id)
		})
	}
}

func TestResolveUsesContentDisposition(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="report.pdf"`)
		_, _ = w.Write([]byte("pdf bytes"))
	}))
	defer srv.Close()

	r := New(5 * time.Second)
	body, name, err := r.Resolve(context.Background(), srv.URL+"/download")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "report.pdf", name)

	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, []byte("pdf bytes"), data)
}

func TestResolveFallsBackToURLPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	r := New(5 * time.Second)
	body, name, err := r.Resolve(context.Background(), srv.URL+"/files/archive.tar.gz")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "archive.tar.gz", name)
}

func TestResolveFallsBackToFileID(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("data"))
	}))
	defer srv.Close()

	r := New(5 * time.Second)
	body, name, err := r.Resolve(context.Background(), srv.URL+"/?id=abc123")
	require.NoError(t, err)
	defer body.Close()

	assert.Equal(t, "abc123.downloaded", name)
}

func TestResolveNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	r := New(5 * time.Second)
	_, _, err := r.Resolve(context.Background(), srv.URL+"/gone")
	assert.ErrorIs(t, err, ErrUnresolvable)
}

func TestResolveHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	r := New(5 * time.Second)
	_, _, err := r.Resolve(ctx, srv.URL)
	assert.Error(t, err)
}
