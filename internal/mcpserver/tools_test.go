package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
)

type fakeReports struct {
	list    map[string][]models.ReportSummary
	pending map[string][]models.ReportSummary
	reports map[string]models.QCReport
	listErr error
}

func (f *fakeReports) ListReports(_ context.Context, projectID string) ([]models.ReportSummary, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}

	return f.list[projectID], nil
}

func (f *fakeReports) LoadReport(_ context.Context, bucketKey, objectKey string) (models.QCReport, error) {
	r, ok := f.reports[bucketKey+"/"+objectKey]
	if !ok {
		return models.QCReport{}, apperrors.ErrReportNotFound
	}

	return r, nil
}

func (f *fakeReports) PendingReports(_ context.Context, projectID string) ([]models.ReportSummary, error) {
	return f.pending[projectID], nil
}

var saved = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newFake() *fakeReports {
	return &fakeReports{
		list: map[string][]models.ReportSummary{
			"proj-1": {
				{
					ReportID:     "r-2",
					ProjectID:    "proj-1",
					BedName:      "Bed 4",
					BucketKey:    "metromont-proj1-aaaaaaaaaaaa",
					ObjectKey:    "report_r-2_20260314.json",
					Size:         512,
					LastModified: saved,
					Source:       models.SourceLocal,
				},
				{
					ReportID:     "r-1",
					ProjectID:    "proj-1",
					BucketKey:    "metromont-proj1-aaaaaaaaaaaa",
					ObjectKey:    "report_r-1_20260301.json",
					Size:         256,
					LastModified: saved.AddDate(0, 0, -13),
					Source:       models.SourceOSS,
					Synced:       true,
				},
			},
		},
		pending: map[string][]models.ReportSummary{
			"proj-1": {
				{ReportID: "r-2", ProjectID: "proj-1", LastModified: saved, Source: models.SourceLocal},
			},
		},
		reports: map[string]models.QCReport{
			"metromont-proj1-aaaaaaaaaaaa/report_r-1_20260301.json": {
				ReportID:  "r-1",
				ProjectID: "proj-1",
				BedName:   "Bed 2",
				Status:    "approved",
			},
		},
	}
}

// testSetup registers tools over reports on an MCP server and returns a
// connected client session.
func testSetup(t *testing.T, reports Reports) *mcp.ClientSession {
	t.Helper()

	server := mcp.NewServer(
		&mcp.Implementation{Name: "castlink-test", Version: "test"},
		nil,
	)
	RegisterTools(server, reports)

	ctx := context.Background()
	t1, t2 := mcp.NewInMemoryTransports()
	_, err := server.Connect(ctx, t1, nil)
	require.NoError(t, err)

	client := mcp.NewClient(
		&mcp.Implementation{Name: "test-client", Version: "test"},
		nil,
	)
	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() { session.Close() })

	return session
}

func callTool(t *testing.T, session *mcp.ClientSession, name string, args map[string]any) *mcp.CallToolResult {
	t.Helper()

	result, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
	require.NoError(t, err)

	return result
}

// extractJSON unmarshals the first text content from a CallToolResult.
func extractJSON(t *testing.T, result *mcp.CallToolResult, dest any) {
	t.Helper()
	require.NotEmpty(t, result.Content, "result has no content")
	tc, ok := result.Content[0].(*mcp.TextContent)
	require.True(t, ok, "first content is not TextContent")
	require.NoError(t, json.Unmarshal([]byte(tc.Text), dest))
}

// --- tool listing ---

func TestRegisterTools_Names(t *testing.T) {
	session := testSetup(t, newFake())

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}

	assert.ElementsMatch(t, []string{"reports_list", "report_load", "reports_pending"}, names)
}

// --- reports_list ---

func TestList_Reports(t *testing.T) {
	session := testSetup(t, newFake())

	result := callTool(t, session, "reports_list", map[string]any{"project_id": "proj-1"})
	assert.False(t, result.IsError)

	var out ListOutput
	extractJSON(t, result, &out)

	assert.Equal(t, "proj-1", out.ProjectID)
	assert.Equal(t, 2, out.Total)
	require.Len(t, out.Reports, 2)
	assert.Equal(t, "r-2", out.Reports[0].ReportID)
	assert.Equal(t, "2026-03-14T09:30:00Z", out.Reports[0].LastModified)
	assert.Equal(t, models.SourceLocal, out.Reports[0].Source)
	assert.Empty(t, out.Reports[0].ReportDate)
	assert.True(t, out.Reports[1].Synced)
}

func TestList_EmptyProjectIsEmptyList(t *testing.T) {
	session := testSetup(t, newFake())

	result := callTool(t, session, "reports_list", map[string]any{"project_id": "unknown"})
	assert.False(t, result.IsError)

	var out ListOutput
	extractJSON(t, result, &out)

	assert.Equal(t, 0, out.Total)
	assert.NotNil(t, out.Reports)
	assert.Empty(t, out.Reports)
}

func TestList_ErrorIsToolError(t *testing.T) {
	f := newFake()
	f.listErr = apperrors.ErrInvalidReport
	session := testSetup(t, f)

	result := callTool(t, session, "reports_list", map[string]any{"project_id": "proj-1"})
	assert.True(t, result.IsError)
}

// --- report_load ---

func TestLoad_Report(t *testing.T) {
	session := testSetup(t, newFake())

	result := callTool(t, session, "report_load", map[string]any{
		"bucket_key": "metromont-proj1-aaaaaaaaaaaa",
		"object_key": "report_r-1_20260301.json",
	})
	assert.False(t, result.IsError)

	var report models.QCReport
	extractJSON(t, result, &report)

	assert.Equal(t, "r-1", report.ReportID)
	assert.Equal(t, "Bed 2", report.BedName)
	assert.Equal(t, "approved", report.Status)
}

func TestLoad_NotFound(t *testing.T) {
	session := testSetup(t, newFake())

	result := callTool(t, session, "report_load", map[string]any{
		"bucket_key": "metromont-proj1-aaaaaaaaaaaa",
		"object_key": "report_missing_20260301.json",
	})
	// Errors from ToolHandlerFor are returned as tool errors (IsError=true),
	// not as protocol errors.
	assert.True(t, result.IsError)
}

// --- reports_pending ---

func TestPending_Reports(t *testing.T) {
	session := testSetup(t, newFake())

	result := callTool(t, session, "reports_pending", map[string]any{"project_id": "proj-1"})
	assert.False(t, result.IsError)

	var out ListOutput
	extractJSON(t, result, &out)

	require.Len(t, out.Reports, 1)
	assert.Equal(t, "r-2", out.Reports[0].ReportID)
	assert.False(t, out.Reports[0].Synced)
}

func TestPending_RequiresProject(t *testing.T) {
	session := testSetup(t, newFake())

	result := callTool(t, session, "reports_pending", map[string]any{"project_id": ""})
	assert.True(t, result.IsError)
}

// --- helpers ---

func TestFormatTime(t *testing.T) {
	assert.Empty(t, formatTime(time.Time{}))

	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2026-03-14T14:30:00Z", formatTime(time.Date(2026, 3, 14, 9, 30, 0, 0, est)))
}
