package samples

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go-audionaut/errs"
)

// maxFetchBytes bounds a single sample download
const maxFetchBytes = 64 << 20

// Fetcher retrieves the encoded bytes behind a sample reference
type Fetcher interface {
	Fetch(ctx context.Context, ref string) ([]byte, error)
}

// FetcherFunc adapts a function to Fetcher
type FetcherFunc func(ctx context.Context, ref string) ([]byte, error)

// Fetch implements Fetcher
func (f FetcherFunc) Fetch(ctx context.Context, ref string) ([]byte, error) {
	return f(ctx, ref)
}

// DefaultFetcher understands file:// URLs and bare paths, http(s) URLs and
// base64 data: URIs.
type DefaultFetcher struct {
	Client  *http.Client // nil means http.DefaultClient
	BaseDir string       // relative paths resolve against this
}

// Fetch implements Fetcher
func (f *DefaultFetcher) Fetch(ctx context.Context, ref string) ([]byte, error) {
	switch {
	case strings.HasPrefix(ref, "data:"):
		return decodeDataURI(ref)
	case strings.HasPrefix(ref, "http://"), strings.HasPrefix(ref, "https://"):
		return f.fetchHTTP(ctx, ref)
	case strings.HasPrefix(ref, "file://"):
		u, err := url.Parse(ref)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
		}
		return readFile(u.Path)
	case ref == "":
		return nil, fmt.Errorf("empty sample reference: %w", errs.ErrDecode)
	}
	path := ref
	if !filepath.IsAbs(path) && f.BaseDir != "" {
		path = filepath.Join(f.BaseDir, path)
	}
	return readFile(path)
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	return data, nil
}

func (f *DefaultFetcher) fetchHTTP(ctx context.Context, ref string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: GET %s: %s", errs.ErrDecode, ref, resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	return data, nil
}

// decodeDataURI handles data:[<mediatype>][;base64],<payload>
func decodeDataURI(ref string) ([]byte, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("malformed data URI: %w", errs.ErrDecode)
	}
	if !strings.HasSuffix(meta, ";base64") {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errs.ErrDecode, err)
		}
		return []byte(data), nil
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// some inscriptions drop the padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
	}
	if err != nil {
		return nil, fmt.Errorf("%w: base64: %v", errs.ErrDecode, err)
	}
	return data, nil
}
