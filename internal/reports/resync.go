package reports

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
)

// PendingReports lists the project's reports that exist only locally,
// oldest first.
func (o *Orchestrator) PendingReports(ctx context.Context, projectID string) ([]models.ReportSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pending, err := o.local.PendingReports(projectID)
	if err != nil {
		return nil, fmt.Errorf("reading pending reports: %w", err)
	}

	out := make([]models.ReportSummary, 0, len(pending))
	for _, r := range pending {
		out = append(out, models.ReportSummary{
			ReportID:     r.ReportID,
			ProjectID:    r.ProjectID,
			BedName:      r.BedName,
			ReportDate:   r.ReportDate,
			Status:       r.Status,
			BucketKey:    r.BucketKey,
			ObjectKey:    r.ObjectKey,
			Size:         r.Size,
			LastModified: r.SavedAt,
			Source:       models.SourceLocal,
		})
	}

	return out, nil
}

// Resync saves every pending report again. Reports land in the current
// session bucket under today's object key. It stops early when storage
// needs a new sign-in or ctx is done; other failures are reported per
// report in the results.
func (o *Orchestrator) Resync(ctx context.Context, projectID string) ([]models.SaveResult, error) {
	pending, err := o.local.PendingReports(projectID)
	if err != nil {
		return nil, fmt.Errorf("reading pending reports: %w", err)
	}

	results := make([]models.SaveResult, 0, len(pending))

	for _, cached := range pending {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		var report models.QCReport
		if err := json.Unmarshal(cached.Report, &report); err != nil {
			o.logger.Warn("skipping unreadable local report",
				slog.String("id", cached.ReportID),
				slog.String("error", err.Error()),
			)

			results = append(results, models.SaveResult{
				Status:   models.SaveFailed,
				ReportID: cached.ReportID,
				Error:    err.Error(),
			})

			continue
		}

		out, err := o.saveReport(ctx, report)
		results = append(results, out.SaveResult)

		if err == nil && apperrors.IsAuth(out.remoteErr) {
			return results, fmt.Errorf("saving %s: %w", cached.ReportID, out.remoteErr)
		}
	}

	o.logger.Info("resync finished",
		slog.String("project", projectID),
		slog.Int("pending", len(pending)),
		slog.Int("synced", countSynced(results)),
	)

	return results, nil
}

func countSynced(results []models.SaveResult) int {
	n := 0

	for _, r := range results {
		if r.Synced() {
			n++
		}
	}

	return n
}
