// Package mcpserver registers read-only MCP tools over saved QC reports.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/metromont/castlink/internal/models"
)

// Reports is the part of the report orchestrator the tools read from.
type Reports interface {
	ListReports(ctx context.Context, projectID string) ([]models.ReportSummary, error)
	LoadReport(ctx context.Context, bucketKey, objectKey string) (models.QCReport, error)
	PendingReports(ctx context.Context, projectID string) ([]models.ReportSummary, error)
}

// RegisterTools adds the report tools to the given MCP server.
func RegisterTools(server *mcp.Server, reports Reports) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "reports_list",
		Description: "List the saved QC reports of a project, newest first. Merges the local offline cache with remote storage; local copies win.",
	}, listHandler(reports))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "report_load",
		Description: "Load one QC report by bucket key and object key, as returned by reports_list.",
	}, loadHandler(reports))

	mcp.AddTool(server, &mcp.Tool{
		Name:        "reports_pending",
		Description: "List reports of a project that were saved locally but have not reached remote storage yet.",
	}, pendingHandler(reports))
}

// --- Input types ---
// The MCP SDK infers JSON schema from these struct types via jsonschema tags.

// ProjectInput holds parameters for reports_list and reports_pending.
type ProjectInput struct {
	ProjectID string `json:"project_id" jsonschema:"required,project identifier"`
}

// LoadInput holds parameters for report_load.
type LoadInput struct {
	BucketKey string `json:"bucket_key" jsonschema:"required,bucket holding the report"`
	ObjectKey string `json:"object_key" jsonschema:"required,object key of the report"`
}

// --- Output types ---

// ReportEntry is one listed report. Times are RFC 3339 strings.
type ReportEntry struct {
	ReportID     string `json:"report_id"`
	BedName      string `json:"bed_name,omitempty"`
	ReportDate   string `json:"report_date,omitempty"`
	Status       string `json:"status,omitempty"`
	BucketKey    string `json:"bucket_key"`
	ObjectKey    string `json:"object_key"`
	Size         int64  `json:"size"`
	LastModified string `json:"last_modified"`
	Source       string `json:"source"`
	Synced       bool   `json:"synced"`
}

// ListOutput is the result of reports_list and reports_pending.
type ListOutput struct {
	ProjectID string        `json:"project_id"`
	Total     int           `json:"total"`
	Reports   []ReportEntry `json:"reports"`
}

// --- Handlers ---

func listHandler(reports Reports) mcp.ToolHandlerFor[ProjectInput, *ListOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ProjectInput) (*mcp.CallToolResult, *ListOutput, error) {
		list, err := reports.ListReports(ctx, input.ProjectID)
		if err != nil {
			return nil, nil, err
		}

		result := toListOutput(input.ProjectID, list)

		return textResult(result), result, nil
	}
}

func pendingHandler(reports Reports) mcp.ToolHandlerFor[ProjectInput, *ListOutput] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input ProjectInput) (*mcp.CallToolResult, *ListOutput, error) {
		if input.ProjectID == "" {
			return nil, nil, fmt.Errorf("project_id is required")
		}

		list, err := reports.PendingReports(ctx, input.ProjectID)
		if err != nil {
			return nil, nil, err
		}

		result := toListOutput(input.ProjectID, list)

		return textResult(result), result, nil
	}
}

// loadHandler returns the report as text only; its stressing blocks are
// opaque, so there is no output schema.
func loadHandler(reports Reports) mcp.ToolHandlerFor[LoadInput, any] {
	return func(ctx context.Context, _ *mcp.CallToolRequest, input LoadInput) (*mcp.CallToolResult, any, error) {
		report, err := reports.LoadReport(ctx, input.BucketKey, input.ObjectKey)
		if err != nil {
			return nil, nil, err
		}

		return textResult(report), nil, nil
	}
}

func toListOutput(projectID string, list []models.ReportSummary) *ListOutput {
	out := &ListOutput{
		ProjectID: projectID,
		Total:     len(list),
		Reports:   make([]ReportEntry, 0, len(list)),
	}

	for _, s := range list {
		out.Reports = append(out.Reports, ReportEntry{
			ReportID:     s.ReportID,
			BedName:      s.BedName,
			ReportDate:   formatTime(s.ReportDate),
			Status:       s.Status,
			BucketKey:    s.BucketKey,
			ObjectKey:    s.ObjectKey,
			Size:         s.Size,
			LastModified: formatTime(s.LastModified),
			Source:       s.Source,
			Synced:       s.Synced,
		})
	}

	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}

	return t.UTC().Format(time.RFC3339)
}

// textResult builds a CallToolResult with JSON text content from any value.
// This provides the unstructured content alongside the structured output
// that the SDK populates automatically.
func textResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("error marshaling result: %v", err)}},
			IsError: true,
		}
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
	}
}
