// Package reports maps QC reports and calculation results onto remote
// object storage and keeps the local offline cache in step with it.
package reports

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/logging"
	"github.com/metromont/castlink/internal/models"
	"github.com/metromont/castlink/internal/oss"
	"github.com/metromont/castlink/internal/state"
)

//go:generate mockgen -source=orchestrator.go -destination=mock_deps_test.go -package=reports

// TokenSource hands out service tokens for storage calls.
type TokenSource interface {
	ServiceToken(ctx context.Context, scope string) (models.ServiceToken, error)
	InvalidateServiceToken(scope string)
}

// ObjectStore is the remote object storage gateway.
type ObjectStore interface {
	EnsureBucket(ctx context.Context, token, bucketKey string) error
	PutObject(ctx context.Context, token, bucketKey, objectKey string, data []byte) error
	ListObjects(ctx context.Context, token, bucketKey string) (oss.ListResult, error)
	GetObject(ctx context.Context, token, bucketKey, objectKey string) ([]byte, error)
	DeleteObject(ctx context.Context, token, bucketKey, objectKey string) error
}

// LocalCache is the offline copy of everything saved.
type LocalCache interface {
	SaveReport(r state.CachedReport) error
	MarkReportSynced(projectID, reportID, revision string) (bool, error)
	ProjectIndex(projectID string) ([]state.IndexEntry, error)
	PendingReports(projectID string) ([]state.CachedReport, error)
	RecordBucket(projectID, bucketKey string, createdAt time.Time) error
	ProjectBuckets(projectID string) ([]state.BucketRecord, error)
	SaveCalculation(c state.CachedCalculation) error
	MarkCalculationSynced(projectID, id, revision string) (bool, error)
}

// DefaultMaxAttempts bounds how often a save is tried against remote
// storage when failures are transient.
const DefaultMaxAttempts = 3

// Config wires an Orchestrator.
type Config struct {
	Tokens TokenSource
	Store  ObjectStore
	Local  LocalCache

	// Scope is requested for every storage token.
	Scope string

	// BucketPrefix leads every bucket key this orchestrator creates.
	BucketPrefix string

	// MaxAttempts caps remote tries per save. Defaults to DefaultMaxAttempts.
	MaxAttempts int

	Logger *slog.Logger
	Now    func() time.Time

	// Sleep waits between retries. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator saves, lists, loads and deletes reports. All methods are
// safe for concurrent use.
type Orchestrator struct {
	tokens      TokenSource
	store       ObjectStore
	local       LocalCache
	scope       string
	prefix      string
	maxAttempts int
	logger      *slog.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	// epoch fixes the session: every project gets one bucket derived from
	// it for the orchestrator's lifetime.
	epoch time.Time

	mu      sync.Mutex
	buckets map[string]string

	// saves holds one lock per local cache entry, so the local and remote
	// copies of an entry always end on the same save.
	saves keyedMutex
}

// New returns an Orchestrator. Tokens, Store and Local are required.
func New(cfg Config) (*Orchestrator, error) {
	if cfg.Tokens == nil || cfg.Store == nil || cfg.Local == nil {
		return nil, errors.New("reports: token source, object store and local cache are required")
	}

	if cfg.Scope == "" {
		return nil, errors.New("reports: storage scope is required")
	}

	o := &Orchestrator{
		tokens:      cfg.Tokens,
		store:       cfg.Store,
		local:       cfg.Local,
		scope:       cfg.Scope,
		prefix:      cfg.BucketPrefix,
		maxAttempts: cfg.MaxAttempts,
		logger:      cfg.Logger,
		now:         cfg.Now,
		sleep:       cfg.Sleep,
		buckets:     make(map[string]string),
	}

	if o.maxAttempts <= 0 {
		o.maxAttempts = DefaultMaxAttempts
	}

	if o.logger == nil {
		o.logger = logging.Discard()
	}

	o.logger = o.logger.With(slog.String("component", "reports"))

	if o.now == nil {
		o.now = time.Now
	}

	if o.sleep == nil {
		o.sleep = sleepContext
	}

	o.epoch = o.now()

	return o, nil
}

// SessionBucket returns the bucket this session writes the project's
// objects to. The key is stable for the orchestrator's lifetime.
func (o *Orchestrator) SessionBucket(projectID string) string {
	o.mu.Lock()
	defer o.mu.Unlock()

	if key, ok := o.buckets[projectID]; ok {
		return key
	}

	key := BucketKey(o.prefix, projectID, o.epoch)
	o.buckets[projectID] = key

	return key
}

// token fetches a storage token.
func (o *Orchestrator) token(ctx context.Context) (string, error) {
	tok, err := o.tokens.ServiceToken(ctx, o.scope)
	if err != nil {
		return "", err
	}

	return tok.Value, nil
}

// withToken runs fn with a storage token. If storage rejects the token
// itself, the cached token is dropped and fn runs once more with a fresh
// one.
func (o *Orchestrator) withToken(ctx context.Context, fn func(token string) error) error {
	token, err := o.token(ctx)
	if err != nil {
		return fmt.Errorf("getting storage token: %w", err)
	}

	err = fn(token)
	if !apperrors.IsUnauthorized(err) {
		return err
	}

	o.logger.Warn("storage rejected token, fetching a new one", slog.String("error", err.Error()))
	o.tokens.InvalidateServiceToken(o.scope)

	token, err = o.token(ctx)
	if err != nil {
		return fmt.Errorf("getting storage token: %w", err)
	}

	return fn(token)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
