package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	apperrors "github.com/metromont/castlink/internal/errors"
	"github.com/metromont/castlink/internal/models"
)

// Storage actions accepted by POST /storage.
const (
	ActionSaveReport      = "save-report"
	ActionLoadReports     = "load-reports"
	ActionLoadReport      = "load-report"
	ActionDeleteReport    = "delete-report"
	ActionSaveCalculation = "save-calculation"
)

// Command is one decoded storage request. The set of implementations is
// closed.
type Command interface {
	action() string
}

// SaveReportCommand saves a report. ProjectID, when set, overrides the
// report's own project.
type SaveReportCommand struct {
	ProjectID string          `json:"projectId"`
	Report    models.QCReport `json:"reportContent"`
}

// LoadReportsCommand lists a project's reports.
type LoadReportsCommand struct {
	ProjectID string `json:"projectId"`
}

// LoadReportCommand fetches one report.
type LoadReportCommand struct {
	BucketKey string `json:"bucketKey"`
	ObjectKey string `json:"objectKey"`
}

// DeleteReportCommand deletes one report.
type DeleteReportCommand struct {
	BucketKey string `json:"bucketKey"`
	ObjectKey string `json:"objectKey"`
}

// SaveCalculationCommand saves a calculation result.
type SaveCalculationCommand struct {
	ProjectID   string                   `json:"projectId"`
	Calculation models.CalculationResult `json:"calculation"`
}

func (SaveReportCommand) action() string      { return ActionSaveReport }
func (LoadReportsCommand) action() string     { return ActionLoadReports }
func (LoadReportCommand) action() string      { return ActionLoadReport }
func (DeleteReportCommand) action() string    { return ActionDeleteReport }
func (SaveCalculationCommand) action() string { return ActionSaveCalculation }

type storageEnvelope struct {
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// DecodeCommand turns a raw {action, data} request into its command.
func DecodeCommand(action string, data json.RawMessage) (Command, error) {
	var cmd Command

	switch strings.ToLower(strings.TrimSpace(action)) {
	case ActionSaveReport:
		cmd = &SaveReportCommand{}
	case ActionLoadReports:
		cmd = &LoadReportsCommand{}
	case ActionLoadReport:
		cmd = &LoadReportCommand{}
	case ActionDeleteReport:
		cmd = &DeleteReportCommand{}
	case ActionSaveCalculation:
		cmd = &SaveCalculationCommand{}
	default:
		return nil, fmt.Errorf("%w: %q", apperrors.ErrUnknownAction, action)
	}

	if len(data) == 0 || string(data) == "null" {
		return nil, fmt.Errorf("%w: %s needs data", errBadRequest, cmd.action())
	}

	if err := json.Unmarshal(data, cmd); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errBadRequest, cmd.action(), err)
	}

	return cmd, nil
}

// saveResponse adds the synced flag to a save result.
type saveResponse struct {
	models.SaveResult

	Synced bool `json:"synced"`
}

type listResponse struct {
	Success bool                   `json:"success"`
	Reports []models.ReportSummary `json:"reports"`
}

type loadResponse struct {
	Success       bool            `json:"success"`
	ReportContent models.QCReport `json:"reportContent"`
}

type deleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

func (h *handlers) storage(w http.ResponseWriter, r *http.Request) {
	var env storageEnvelope
	if err := decodeJSON(w, r, &env); err != nil {
		h.fail(w, r, "storage", err)
		return
	}

	cmd, err := DecodeCommand(env.Action, env.Data)
	if err != nil {
		h.fail(w, r, "storage", err)
		return
	}

	ctx := r.Context()
	op := "storage " + cmd.action()
	h.requestLogger(r).Debug(op)

	switch c := cmd.(type) {
	case *SaveReportCommand:
		if c.ProjectID != "" {
			c.Report.ProjectID = c.ProjectID
		}

		res, err := h.reports.SaveReport(ctx, c.Report)
		h.writeSave(w, r, op, res, err)

	case *SaveCalculationCommand:
		if c.ProjectID != "" {
			c.Calculation.ProjectID = c.ProjectID
		}

		res, err := h.reports.SaveCalculation(ctx, c.Calculation)
		h.writeSave(w, r, op, res, err)

	case *LoadReportsCommand:
		reports, err := h.reports.ListReports(ctx, c.ProjectID)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}

		if reports == nil {
			reports = []models.ReportSummary{}
		}

		writeJSON(w, http.StatusOK, listResponse{Success: true, Reports: reports})

	case *LoadReportCommand:
		report, err := h.reports.LoadReport(ctx, c.BucketKey, c.ObjectKey)
		if err != nil {
			h.fail(w, r, op, err)
			return
		}

		writeJSON(w, http.StatusOK, loadResponse{Success: true, ReportContent: report})

	case *DeleteReportCommand:
		if err := h.reports.DeleteReport(ctx, c.BucketKey, c.ObjectKey); err != nil {
			h.fail(w, r, op, err)
			return
		}

		writeJSON(w, http.StatusOK, deleteResponse{Success: true, Message: "report deleted"})
	}
}

// writeSave answers 200 for a synced save and 202 when only the local
// copy was written.
func (h *handlers) writeSave(w http.ResponseWriter, r *http.Request, op string, res models.SaveResult, err error) {
	if err != nil {
		h.fail(w, r, op, err)
		return
	}

	status := http.StatusOK
	if res.Status == models.SaveLocalFallback {
		status = http.StatusAccepted

		h.requestLogger(r).Warn(op+" kept locally",
			slog.String("id", res.ReportID),
			slog.String("error", res.Error),
		)
	}

	writeJSON(w, status, saveResponse{SaveResult: res, Synced: res.Synced()})
}
