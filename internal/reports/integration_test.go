package reports

import (
	"context"
	"encoding/json"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metromont/castlink/internal/broker"
	"github.com/metromont/castlink/internal/credcache"
	"github.com/metromont/castlink/internal/models"
	"github.com/metromont/castlink/internal/oss"
	"github.com/metromont/castlink/internal/oss/osstest"
	"github.com/metromont/castlink/internal/state"
)

// stack is an orchestrator wired to the fake platform and a real state
// database.
type stack struct {
	srv   *osstest.Server
	local *state.State
	orch  *Orchestrator
}

func newStack(t *testing.T) *stack {
	t.Helper()

	srv := osstest.New()
	t.Cleanup(srv.Close)

	local, err := state.LoadAt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { local.Close() })

	b, err := broker.New(broker.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		TokenURL:     srv.TokenURL(),
		SigningKey:   []byte("0123456789abcdef0123456789abcdef"),
		Issuer:       "castlink",
		Audience:     "castlink-web",
		SessionTTL:   time.Hour,
		Cache:        credcache.New[models.ServiceToken](credcache.DefaultMargin),
	})
	require.NoError(t, err)

	store := oss.NewClient(srv.OSSURL(), oss.WithHTTPClient(oss.NewHTTPClient(5*time.Second)))

	orch, err := New(Config{
		Tokens:       b,
		Store:        store,
		Local:        local,
		Scope:        testScope,
		BucketPrefix: "metromont",
		Sleep:        func(context.Context, time.Duration) error { return nil },
	})
	require.NoError(t, err)

	return &stack{srv: srv, local: local, orch: orch}
}

func TestIntegration_SaveListLoad(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	res, err := s.orch.SaveReport(ctx, testReport())
	require.NoError(t, err)
	require.Equal(t, models.SaveSynced, res.Status)

	obj, ok := s.srv.Object(res.BucketKey, res.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, res.Size, int64(len(obj.Data)))

	cached, err := s.local.GetReport(testProject, "QC-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.Synced)
	assert.JSONEq(t, string(obj.Data), string(cached.Report))

	list, err := s.orch.ListReports(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.SourceLocal, list[0].Source)
	assert.True(t, list[0].Synced)

	got, err := s.orch.LoadReport(ctx, res.BucketKey, res.ObjectKey)
	require.NoError(t, err)
	assert.Equal(t, "Bed 3", got.BedName)
	assert.Equal(t, res.BucketKey, got.OSSBucketKey)
}

func TestIntegration_ListNeverSavedProjectIsEmpty(t *testing.T) {
	s := newStack(t)

	list, err := s.orch.ListReports(context.Background(), "PRJ-EMPTY")
	require.NoError(t, err)
	assert.Empty(t, list)
	assert.False(t, s.srv.HasBucket(s.orch.SessionBucket("PRJ-EMPTY")))
}

func TestIntegration_OfflineSaveFallsBackLocally(t *testing.T) {
	s := newStack(t)
	s.srv.SetOffline(true)

	res, err := s.orch.SaveReport(context.Background(), testReport())
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, models.SaveLocalFallback, res.Status)
	assert.NotEmpty(t, res.Error)

	cached, err := s.local.GetReport(testProject, "QC-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.False(t, cached.Synced)

	s.srv.SetOffline(false)
	assert.False(t, s.srv.HasBucket(res.BucketKey))
	assert.Empty(t, s.srv.ObjectKeys(res.BucketKey))

	// Listing still shows the local copy, flagged unsynced.
	list, err := s.orch.ListReports(context.Background(), testProject)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.False(t, list[0].Synced)
}

func TestIntegration_ResyncAfterOutage(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	s.srv.SetOffline(true)
	_, err := s.orch.SaveReport(ctx, testReport())
	require.NoError(t, err)
	s.srv.SetOffline(false)

	pending, err := s.orch.PendingReports(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	results, err := s.orch.Resync(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, models.SaveSynced, results[0].Status)

	pending, err = s.orch.PendingReports(ctx, testProject)
	require.NoError(t, err)
	assert.Empty(t, pending)

	_, ok := s.srv.Object(results[0].BucketKey, results[0].ObjectKey)
	assert.True(t, ok)
}

func TestIntegration_ConcurrentSameKeySaves(t *testing.T) {
	s := newStack(t)

	const n = 6

	var wg sync.WaitGroup

	results := make([]models.SaveResult, n)
	errs := make([]error, n)

	for i := range n {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			r := testReport()
			r.Notes = string(rune('a' + i))
			results[i], errs[i] = s.orch.SaveReport(context.Background(), r)
		}(i)
	}

	wg.Wait()

	for i := range n {
		require.NoError(t, errs[i])
		assert.Equal(t, models.SaveSynced, results[i].Status)
	}

	bucket := results[0].BucketKey
	require.Equal(t, []string{results[0].ObjectKey}, s.srv.ObjectKeys(bucket))

	obj, _ := s.srv.Object(bucket, results[0].ObjectKey)

	var stored models.QCReport
	require.NoError(t, json.Unmarshal(obj.Data, &stored))
	assert.Len(t, stored.Notes, 1)
	assert.Equal(t, "QC-1", stored.ReportID)

	// The local copy ends on the same save as the remote one.
	cached, err := s.local.GetReport(testProject, "QC-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.True(t, cached.Synced)
	assert.JSONEq(t, string(obj.Data), string(cached.Report))
}

func TestIntegration_TransientFinalizeRetried(t *testing.T) {
	s := newStack(t)
	s.srv.Fail(osstest.OpFinalize, 503)

	res, err := s.orch.SaveReport(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, models.SaveSynced, res.Status)
	assert.Equal(t, 2, s.srv.Calls(osstest.OpRequestUpload))
	assert.Equal(t, 2, s.srv.Calls(osstest.OpFinalize))
}

func TestIntegration_RejectedTokenReplaced(t *testing.T) {
	s := newStack(t)
	s.srv.Fail(osstest.OpRequestUpload, 401)

	res, err := s.orch.SaveReport(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, models.SaveSynced, res.Status)
	assert.Equal(t, 2, s.srv.Calls(osstest.OpToken))
	assert.Equal(t, 2, s.srv.Calls(osstest.OpRequestUpload))
}

func TestIntegration_OfflineTokenEndpointFallsBack(t *testing.T) {
	s := newStack(t)
	s.srv.SetOffline(true)

	res, err := s.orch.SaveReport(context.Background(), testReport())
	require.NoError(t, err)
	assert.Equal(t, models.SaveLocalFallback, res.Status)
	assert.Contains(t, res.Error, "storage token")
	assert.Zero(t, s.srv.Calls(osstest.OpToken))

	cached, err := s.local.GetReport(testProject, "QC-1")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.False(t, cached.Synced)
}

func TestIntegration_DeleteLeavesLocalCopy(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	res, err := s.orch.SaveReport(ctx, testReport())
	require.NoError(t, err)

	require.NoError(t, s.orch.DeleteReport(ctx, res.BucketKey, res.ObjectKey))
	require.NoError(t, s.orch.DeleteReport(ctx, res.BucketKey, res.ObjectKey))

	_, err = s.orch.LoadReport(ctx, res.BucketKey, res.ObjectKey)
	require.Error(t, err)

	list, err := s.orch.ListReports(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, models.SourceLocal, list[0].Source)
}

func TestIntegration_HistoricalBucketListed(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	old := BucketKey("metromont", testProject, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s.srv.PutObject(old, "report_QC-0_20240101.json", []byte(`{"reportId":"QC-0"}`), time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC))
	require.NoError(t, s.local.RecordBucket(testProject, old, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))

	_, err := s.orch.SaveReport(ctx, testReport())
	require.NoError(t, err)

	list, err := s.orch.ListReports(ctx, testProject)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "QC-1", list[0].ReportID)
	assert.Equal(t, "QC-0", list[1].ReportID)
	assert.Equal(t, old, list[1].BucketKey)
	assert.Equal(t, models.SourceOSS, list[1].Source)
}
