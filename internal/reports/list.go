package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
	"github.com/metromont/castlink/internal/state"
)

// ListReports merges the project's local index with the report objects in
// remote storage. The local copy wins for a report present in both.
// Newest first.
//
// If one side cannot be read the other is returned alone; an error means
// neither could.
func (o *Orchestrator) ListReports(ctx context.Context, projectID string) ([]models.ReportSummary, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return nil, fmt.Errorf("%w: project id is required", apperrors.ErrInvalidReport)
	}

	var (
		wg        sync.WaitGroup
		local     []state.IndexEntry
		remote    []models.ReportSummary
		localErr  error
		remoteErr error
	)

	wg.Go(func() {
		local, localErr = o.local.ProjectIndex(projectID)
	})

	wg.Go(func() {
		remote, remoteErr = o.listRemote(ctx, projectID)
	})

	wg.Wait()

	log := o.logger.With(slog.String("project", projectID))

	switch {
	case localErr != nil && remoteErr != nil:
		return nil, fmt.Errorf("listing reports: %w", errors.Join(remoteErr, localErr))
	case remoteErr != nil:
		log.Warn("remote listing failed, showing local reports only", slog.String("error", remoteErr.Error()))
	case localErr != nil:
		log.Warn("local index unreadable, showing remote reports only", slog.String("error", localErr.Error()))
	}

	return merge(projectID, local, remote), nil
}

// listRemote lists report objects in the session bucket and in every
// bucket the project has used before.
func (o *Orchestrator) listRemote(ctx context.Context, projectID string) ([]models.ReportSummary, error) {
	bucketKeys := []string{o.SessionBucket(projectID)}

	records, err := o.local.ProjectBuckets(projectID)
	if err != nil {
		o.logger.Warn("reading project buckets", slog.String("project", projectID), slog.String("error", err.Error()))
	}

	for _, r := range records {
		if r.BucketKey != bucketKeys[0] {
			bucketKeys = append(bucketKeys, r.BucketKey)
		}
	}

	var (
		out  []models.ReportSummary
		errs []error
	)

	err = o.withToken(ctx, func(token string) error {
		out, errs = nil, nil

		for _, bucketKey := range bucketKeys {
			res, err := o.store.ListObjects(ctx, token, bucketKey)
			if err != nil {
				errs = append(errs, err)
				continue
			}

			for _, obj := range res.Items {
				reportID, saved, ok := ParseObjectKey(obj.ObjectKey)
				if !ok {
					continue
				}

				out = append(out, models.ReportSummary{
					ReportID:     reportID,
					ProjectID:    projectID,
					ReportDate:   saved,
					BucketKey:    obj.BucketKey,
					ObjectKey:    obj.ObjectKey,
					Size:         obj.Size,
					LastModified: obj.LastModified,
					Source:       models.SourceOSS,
					Synced:       true,
				})
			}
		}

		if len(errs) == len(bucketKeys) {
			return errors.Join(errs...)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, err := range errs {
		o.logger.Warn("listing bucket", slog.String("project", projectID), slog.String("error", err.Error()))
	}

	return out, nil
}

// merge de-duplicates by report ID. Among remote copies the newest wins;
// a local entry replaces any remote one.
func merge(projectID string, local []state.IndexEntry, remote []models.ReportSummary) []models.ReportSummary {
	byID := make(map[string]models.ReportSummary, len(local)+len(remote))

	for _, r := range remote {
		if prev, ok := byID[r.ReportID]; ok && !r.LastModified.After(prev.LastModified) {
			continue
		}

		byID[r.ReportID] = r
	}

	for _, e := range local {
		byID[e.ReportID] = models.ReportSummary{
			ReportID:     e.ReportID,
			ProjectID:    projectID,
			BedName:      e.BedName,
			ReportDate:   e.ReportDate,
			Status:       e.Status,
			BucketKey:    e.BucketKey,
			ObjectKey:    e.ObjectKey,
			Size:         e.Size,
			LastModified: e.SavedAt,
			Source:       models.SourceLocal,
			Synced:       e.Synced,
		}
	}

	out := make([]models.ReportSummary, 0, len(byID))
	for _, r := range byID {
		out = append(out, r)
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].LastModified.After(out[j].LastModified)
		}

		return out[i].ReportID < out[j].ReportID
	})

	return out
}

// LoadReport fetches one report from remote storage.
func (o *Orchestrator) LoadReport(ctx context.Context, bucketKey, objectKey string) (models.QCReport, error) {
	if bucketKey == "" || objectKey == "" {
		return models.QCReport{}, fmt.Errorf("%w: bucket key and object key are required", apperrors.ErrInvalidReport)
	}

	var data []byte

	err := o.withToken(ctx, func(token string) error {
		var err error
		data, err = o.store.GetObject(ctx, token, bucketKey, objectKey)

		return err
	})
	if err != nil {
		if apperrors.IsNotFound(err) {
			return models.QCReport{}, fmt.Errorf("%w: %s/%s", apperrors.ErrReportNotFound, bucketKey, objectKey)
		}

		return models.QCReport{}, fmt.Errorf("loading report: %w", err)
	}

	var report models.QCReport
	if err := json.Unmarshal(data, &report); err != nil {
		return models.QCReport{}, fmt.Errorf("%w: decoding report %s/%s: %w", apperrors.ErrAPIResponse, bucketKey, objectKey, err)
	}

	return report, nil
}

// DeleteReport removes a report from remote storage. Deleting a report
// that is already gone succeeds. The local copy is left in place.
func (o *Orchestrator) DeleteReport(ctx context.Context, bucketKey, objectKey string) error {
	if bucketKey == "" || objectKey == "" {
		return fmt.Errorf("%w: bucket key and object key are required", apperrors.ErrInvalidReport)
	}

	err := o.withToken(ctx, func(token string) error {
		return o.store.DeleteObject(ctx, token, bucketKey, objectKey)
	})
	if err != nil {
		return fmt.Errorf("deleting report: %w", err)
	}

	o.logger.Info("deleted", slog.String("bucket", bucketKey), slog.String("object", objectKey))

	return nil
}
