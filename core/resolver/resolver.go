package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"time"
)

var (
	ErrUnresolvable = errors.New("link did not resolve to a downloadable file")
)

var (
	sharePathID  = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	shareQueryID = regexp.MustCompile(`(?:^|[?&])id=([a-zA-Z0-9_-]+)`)
)

// Resolver turns an external share link into a readable byte stream plus
// a best-effort original filename. The stream is untrusted input and
// goes through the same splitting path as local files.
type Resolver struct {
	client *http.Client
}

func New(timeout time.Duration) *Resolver {
	return &Resolver{
		client: &http.Client{Timeout: timeout},
	}
}

// FileID extracts the file identifier from a share link. Both the
// "/file/d/<id>" path form and the "id=<id>" query form are recognised.
func FileID(link string) (string, bool) {
	if m := sharePathID.FindStringSubmatch(link); m != nil {
		return m[1], true
	}

	if m := shareQueryID.FindStringSubmatch(link); m != nil {
		return m[1], true
	}

	return "", false
}

// Resolve fetches the link and returns the response body along with the
// filename to store it under. The caller owns closing the stream.
func (r *Resolver) Resolve(ctx context.Context, link string) (io.ReadCloser, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, "", err
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, "", err
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, "", fmt.Errorf("%w: status %s", ErrUnresolvable, resp.Status)
	}

	return resp.Body, filename(resp, link), nil
}

// filename picks the name to store the download under: the
// Content-Disposition filename when the server sends one, then the last
// segment of the URL path, then the share-link file id.
func filename(resp *http.Response, link string) string {
	if disposition := resp.Header.Get("Content-Disposition"); disposition != "" {
		_, params, err := mime.ParseMediaType(disposition)
		if err == nil && params["filename"] != "" {
			return params["filename"]
		}
	}

	if u, err := url.Parse(link); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			return base
		}
	}

	if id, ok := FileID(link); ok {
		return fmt.Sprintf("%s.downloaded", id)
	}

	return "download.bin"
}
