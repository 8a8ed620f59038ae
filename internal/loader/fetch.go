package loader

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"noshowd/internal/common/fsutil"
	"noshowd/internal/model"
)

// Fetcher reads at most max bytes of the artifact at u. Returning more than
// max bytes is an error.
type Fetcher interface {
	Fetch(ctx context.Context, u *url.URL, max int64) ([]byte, error)
}

var errTooLarge = errors.New("artifact exceeds size limit")

// readLimited reads r up to max bytes, failing when more remain.
func readLimited(r io.Reader, max int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, max+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > max {
		return nil, errTooLarge
	}
	return b, nil
}

// FileFetcher reads local files.
type FileFetcher struct{}

func (FileFetcher) Fetch(ctx context.Context, u *url.URL, max int64) ([]byte, error) {
	f, err := os.Open(u.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	type result struct {
		b   []byte
		err error
	}
	ch := make(chan result, 1)
	go func() {
		b, err := readLimited(f, max)
		ch <- result{b, err}
	}()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		return r.b, r.err
	}
}

// HTTPFetcher downloads artifacts over http(s).
type HTTPFetcher struct {
	client *http.Client
}

// NewHTTPFetcher returns a fetcher using c, or a default client when nil.
// Deadlines come from the request context.
func NewHTTPFetcher(c *http.Client) *HTTPFetcher {
	if c == nil {
		c = &http.Client{}
	}
	return &HTTPFetcher{client: c}
}

func (h *HTTPFetcher) Fetch(ctx context.Context, u *url.URL, max int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	resp, err := h.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	if resp.ContentLength > max {
		return nil, errTooLarge
	}
	return readLimited(resp.Body, max)
}

// sourceURL normalizes a registry source into a URL. Bare paths become file
// URLs resolved against baseDir.
func (l *Loader) sourceURL(source string) (*url.URL, error) {
	if strings.TrimSpace(source) == "" {
		return nil, errors.New("empty artifact source")
	}
	if !strings.Contains(source, "://") {
		p, err := fsutil.ResolvePath(l.baseDir, source)
		if err != nil {
			return nil, err
		}
		return &url.URL{Scheme: "file", Path: p}, nil
	}
	u, err := url.Parse(source)
	if err != nil {
		return nil, err
	}
	if u.Scheme == "file" && u.Host != "" && u.Host != "localhost" {
		u.Path = u.Host + u.Path
		u.Host = ""
	}
	return u, nil
}

func (l *Loader) fetch(ctx context.Context, source string) ([]byte, error) {
	u, err := l.sourceURL(source)
	if err != nil {
		return nil, model.ErrArtifactFetch(source, err)
	}
	f, ok := l.fetchers[u.Scheme]
	if !ok {
		return nil, model.ErrArtifactFetch(source, fmt.Errorf("unsupported scheme %q", u.Scheme))
	}
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()
	b, err := f.Fetch(ctx, u, l.maxBytes)
	if err != nil {
		return nil, model.ErrArtifactFetch(source, err)
	}
	return b, nil
}

// verifyChecksum checks data against a "sha256:<hex>" digest.
func verifyChecksum(source, checksum string, data []byte) error {
	algo, want, ok := strings.Cut(checksum, ":")
	if !ok || !strings.EqualFold(algo, "sha256") {
		return model.ErrArtifactCorrupt(source, fmt.Sprintf("unsupported checksum %q", checksum))
	}
	wantBytes, err := hex.DecodeString(strings.ToLower(want))
	if err != nil || len(wantBytes) != sha256.Size {
		return model.ErrArtifactCorrupt(source, fmt.Sprintf("malformed checksum %q", checksum))
	}
	sum := sha256.Sum256(data)
	if subtle.ConstantTimeCompare(sum[:], wantBytes) != 1 {
		return model.ErrArtifactCorrupt(source, "checksum mismatch: got sha256:"+hex.EncodeToString(sum[:]))
	}
	return nil
}

// Checksum returns the "sha256:<hex>" digest of data.
func Checksum(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}
