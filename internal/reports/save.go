package reports

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
	"github.com/metromont/castlink/internal/state"
)

const (
	retryBase = 200 * time.Millisecond
	retryCap  = 5 * time.Second
)

// write is one object headed for remote storage together with the
// callbacks that record it locally.
type write struct {
	lockKey   string
	id        string
	projectID string
	bucketKey string
	objectKey string
	data      []byte

	// saveLocal stores the local copy unsynced.
	saveLocal func() error

	// markSynced flags that same local copy as synced. It reports false
	// when a newer save has replaced the copy in the meantime.
	markSynced func() (bool, error)
}

// saveOutcome is a save result together with the remote failure behind a
// local_fallback, which callers of the exported methods only see as text.
type saveOutcome struct {
	models.SaveResult
	remoteErr error
}

// SaveReport writes report to the project's session bucket. A local copy
// is written first so the report survives a remote failure.
//
// The result status is "synced" when the remote copy was written,
// "local_fallback" when only the local copy was, and "failed" when
// neither was. Only "failed" carries an error; the remote failure behind
// a local_fallback is in the result's Error field.
func (o *Orchestrator) SaveReport(ctx context.Context, report models.QCReport) (models.SaveResult, error) {
	out, err := o.saveReport(ctx, report)
	return out.SaveResult, err
}

func (o *Orchestrator) saveReport(ctx context.Context, report models.QCReport) (saveOutcome, error) {
	report.ReportID = strings.TrimSpace(report.ReportID)
	report.ProjectID = strings.TrimSpace(report.ProjectID)

	if report.ReportID == "" || report.ProjectID == "" {
		err := fmt.Errorf("%w: report id and project id are required", apperrors.ErrInvalidReport)
		return failedOutcome(report.ReportID, err), err
	}

	now := o.now().UTC()
	bucketKey := o.SessionBucket(report.ProjectID)
	objectKey := ObjectKey(report.ReportID, now)

	report.OSSBucketKey = bucketKey
	report.OSSObjectKey = objectKey
	report.ModifiedDate = &now

	if report.CreatedDate.IsZero() {
		report.CreatedDate = now
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		err = fmt.Errorf("%w: encoding report: %w", apperrors.ErrInvalidReport, err)
		return failedOutcome(report.ReportID, err), err
	}

	revision := ulid.Make().String()

	return o.persist(ctx, write{
		lockKey:   "report:" + report.ProjectID + ":" + report.ReportID,
		id:        report.ReportID,
		projectID: report.ProjectID,
		bucketKey: bucketKey,
		objectKey: objectKey,
		data:      data,
		saveLocal: func() error {
			return o.local.SaveReport(state.CachedReport{
				ReportID:   report.ReportID,
				ProjectID:  report.ProjectID,
				BedName:    report.BedName,
				ReportDate: report.ReportDate,
				Status:     report.Status,
				BucketKey:  bucketKey,
				ObjectKey:  objectKey,
				Size:       int64(len(data)),
				SavedAt:    now,
				Revision:   revision,
				Report:     data,
			})
		},
		markSynced: func() (bool, error) {
			return o.local.MarkReportSynced(report.ProjectID, report.ReportID, revision)
		},
	})
}

// SaveCalculation writes a calculation result the same way SaveReport
// writes a report. A calculation without an ID is given one.
func (o *Orchestrator) SaveCalculation(ctx context.Context, calc models.CalculationResult) (models.SaveResult, error) {
	calc.ProjectID = strings.TrimSpace(calc.ProjectID)
	if calc.ProjectID == "" {
		err := fmt.Errorf("%w: project id is required", apperrors.ErrInvalidReport)
		return failedOutcome("", err).SaveResult, err
	}

	if strings.TrimSpace(calc.ID) == "" {
		calc.ID = uuid.NewString()
	}

	now := o.now().UTC()
	bucketKey := o.SessionBucket(calc.ProjectID)
	objectKey := CalculationKey(calc.ID, now)

	calc.OSSBucketKey = bucketKey
	calc.OSSObjectKey = objectKey

	if calc.CalculationDate.IsZero() {
		calc.CalculationDate = now
	}

	data, err := json.MarshalIndent(calc, "", "  ")
	if err != nil {
		err = fmt.Errorf("%w: encoding calculation: %w", apperrors.ErrInvalidReport, err)
		return failedOutcome(calc.ID, err).SaveResult, err
	}

	revision := ulid.Make().String()

	out, err := o.persist(ctx, write{
		lockKey:   "calculation:" + calc.ProjectID + ":" + calc.ID,
		id:        calc.ID,
		projectID: calc.ProjectID,
		bucketKey: bucketKey,
		objectKey: objectKey,
		data:      data,
		saveLocal: func() error {
			return o.local.SaveCalculation(state.CachedCalculation{
				ID:          calc.ID,
				ProjectID:   calc.ProjectID,
				BucketKey:   bucketKey,
				ObjectKey:   objectKey,
				SavedAt:     now,
				Revision:    revision,
				Calculation: data,
			})
		},
		markSynced: func() (bool, error) {
			return o.local.MarkCalculationSynced(calc.ProjectID, calc.ID, revision)
		},
	})

	return out.SaveResult, err
}

func failedOutcome(id string, err error) saveOutcome {
	return saveOutcome{SaveResult: models.SaveResult{Status: models.SaveFailed, ReportID: id, Error: err.Error()}}
}

func (o *Orchestrator) persist(ctx context.Context, w write) (saveOutcome, error) {
	res := models.SaveResult{
		ReportID:  w.id,
		BucketKey: w.bucketKey,
		ObjectKey: w.objectKey,
		Size:      int64(len(w.data)),
	}

	unlock, err := o.saves.lock(ctx, w.lockKey)
	if err != nil {
		res.Status = models.SaveFailed
		res.Error = err.Error()

		return saveOutcome{SaveResult: res}, fmt.Errorf("saving %s: %w", w.id, err)
	}
	defer unlock()

	log := o.logger.With(
		slog.String("id", w.id),
		slog.String("project", w.projectID),
		slog.String("bucket", w.bucketKey),
		slog.String("object", w.objectKey),
	)

	localErr := w.saveLocal()
	if localErr != nil {
		log.Warn("writing local copy", slog.String("error", localErr.Error()))
	}

	if err := o.local.RecordBucket(w.projectID, w.bucketKey, o.epoch); err != nil {
		log.Warn("recording project bucket", slog.String("error", err.Error()))
	}

	remoteErr := o.upload(ctx, log, w)
	if remoteErr == nil {
		if localErr == nil {
			marked, err := w.markSynced()
			switch {
			case err != nil:
				log.Warn("marking local copy synced", slog.String("error", err.Error()))
			case !marked:
				log.Debug("local copy replaced by a newer save, left unsynced")
			}
		}

		log.Info("saved", slog.Int64("size", res.Size))

		res.Success = true
		res.Status = models.SaveSynced

		return saveOutcome{SaveResult: res}, nil
	}

	res.Error = remoteErr.Error()

	if localErr != nil {
		log.Error("save failed", slog.String("error", remoteErr.Error()))

		res.Status = models.SaveFailed

		return saveOutcome{SaveResult: res, remoteErr: remoteErr},
			fmt.Errorf("saving %s: %w", w.id, errors.Join(remoteErr, localErr))
	}

	log.Warn("remote save failed, kept local copy", slog.String("error", remoteErr.Error()))

	res.Success = true
	res.Status = models.SaveLocalFallback

	return saveOutcome{SaveResult: res, remoteErr: remoteErr}, nil
}

// upload runs token, bucket and upload as one unit, restarting the whole
// sequence on transient failures.
func (o *Orchestrator) upload(ctx context.Context, log *slog.Logger, w write) error {
	var err error

	for attempt := 1; ; attempt++ {
		err = o.uploadOnce(ctx, w)
		if err == nil {
			return nil
		}

		if !apperrors.IsTransient(err) || attempt >= o.maxAttempts {
			return err
		}

		delay := backoff(attempt)
		log.Warn("retrying save",
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)

		if serr := o.sleep(ctx, delay); serr != nil {
			return err
		}
	}
}

func (o *Orchestrator) uploadOnce(ctx context.Context, w write) error {
	return o.withToken(ctx, func(token string) error {
		if err := o.store.EnsureBucket(ctx, token, w.bucketKey); err != nil {
			return fmt.Errorf("ensuring bucket: %w", err)
		}

		if err := o.store.PutObject(ctx, token, w.bucketKey, w.objectKey, w.data); err != nil {
			return fmt.Errorf("uploading object: %w", err)
		}

		return nil
	})
}

// backoff is exponential with full jitter: a uniform pick from
// [0, min(retryCap, retryBase*2^(attempt-1))].
func backoff(attempt int) time.Duration {
	d := retryCap
	if attempt < 16 {
		d = min(retryBase<<(attempt-1), retryCap)
	}

	return rand.N(d + 1)
}
