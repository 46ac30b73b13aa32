// Package oss is the storage gateway for the platform's object storage
// service: bucket provisioning, the three-phase signed upload, listing,
// signed download and delete. It holds no token state; every call takes
// the bearer token to use.
package oss

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/logging"
)

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// DefaultTimeout bounds every outbound request when the caller does
	// not supply its own client.
	DefaultTimeout = 30 * time.Second

	// maxAPIResponseBytes caps JSON response reads. OSS control-plane
	// responses are small; only downloads are large.
	maxAPIResponseBytes = 1024 * 1024

	// DefaultMaxDownloadBytes caps object downloads.
	DefaultMaxDownloadBytes = 64 << 20
)

var bucketKeyPattern = regexp.MustCompile(`^[-_.a-z0-9]{3,128}$`)

// ValidBucketKey reports whether key satisfies the platform's bucket
// naming rule.
func ValidBucketKey(key string) bool {
	return bucketKeyPattern.MatchString(key)
}

// PhaseFunc observes upload phase transitions.
type PhaseFunc func(bucketKey, objectKey string, phase apperrors.UploadPhase)

// Client talks to the OSS v2 REST API. It is safe for concurrent use.
type Client struct {
	httpClient  *http.Client
	baseURL     string
	maxDownload int64
	onPhase     PhaseFunc
	logger      *slog.Logger

	// known records buckets confirmed to exist. The remote store stays
	// authoritative; a stale entry only skips one existence check.
	mu    sync.RWMutex
	known map[string]struct{}
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for every request.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithMaxDownloadBytes caps GetObject reads.
func WithMaxDownloadBytes(n int64) Option {
	return func(c *Client) { c.maxDownload = n }
}

// WithPhaseHook registers fn to observe PutObject phases.
func WithPhaseHook(fn PhaseFunc) Option {
	return func(c *Client) { c.onPhase = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host. This prevents bearer tokens from
// leaking to third-party domains.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewHTTPClient returns an http.Client with the given timeout and the
// same-host redirect policy. A non-positive timeout uses DefaultTimeout.
func NewHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &http.Client{
		Timeout:       timeout,
		CheckRedirect: sameHostRedirectPolicy,
	}
}

// NewClient creates a gateway for the OSS API rooted at baseURL
// (for example https://developer.api.autodesk.com/oss/v2).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		maxDownload: DefaultMaxDownloadBytes,
		known:       make(map[string]struct{}),
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.httpClient == nil {
		c.httpClient = NewHTTPClient(DefaultTimeout)
	}

	if c.logger == nil {
		c.logger = logging.Discard()
	}

	c.logger = c.logger.With(slog.String("component", "oss"))

	return c
}

func (c *Client) bucketURL(bucketKey string) string {
	return c.baseURL + "/buckets/" + url.PathEscape(bucketKey)
}

func (c *Client) objectURL(bucketKey, objectKey string) string {
	return c.bucketURL(bucketKey) + "/objects/" + url.PathEscape(objectKey)
}

// response is a fully read HTTP response.
type response struct {
	status int
	header http.Header
	body   []byte
}

func (r *response) ok() bool {
	return r.status >= 200 && r.status < 300
}

// statusError builds the typed error for a non-2xx response.
func (r *response) statusError() *apperrors.StorageError {
	return &apperrors.StorageError{
		Kind:   apperrors.StorageKindForStatus(r.status),
		Status: r.status,
		Detail: apperrors.SanitizeBody(r.body),
	}
}

// do sends a request and reads at most limit bytes of the response.
// An empty token sends no Authorization header. Transport failures come
// back as StorageError{Kind: network}.
func (c *Client) do(ctx context.Context, method, rawURL, token string, body []byte, contentType string, limit int64) (*response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, rdr)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	if body != nil {
		req.ContentLength = int64(len(body))
	}

	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.StorageError{Kind: apperrors.StorageNetwork, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, limit))
	if err != nil {
		return nil, &apperrors.StorageError{Kind: apperrors.StorageNetwork, Err: fmt.Errorf("reading response: %w", err)}
	}

	return &response{status: resp.StatusCode, header: resp.Header, body: data}, nil
}

func malformed(detail string) *apperrors.StorageError {
	return &apperrors.StorageError{Kind: apperrors.StorageMalformedResponse, Detail: detail}
}

func invalidBucket(bucketKey string) error {
	return &apperrors.StorageError{
		Kind:   apperrors.StorageRejected,
		Detail: fmt.Sprintf("invalid bucket key %q", bucketKey),
	}
}
