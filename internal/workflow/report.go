package workflow

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/segmat/segmat/internal/storage"
	apperrors "github.com/segmat/segmat/pkg/errors"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/writer"
)

// CompletionReport summarizes a finished materialization run, uploaded
// alongside the run so an operator can audit how many chunks ran, how long
// it took, and how many rows still need a repair pass, without having to
// query the checkpoint store directly.
type CompletionReport struct {
	Database        string    `json:"database"`
	AnnotationTable string    `json:"annotation_table"`
	TotalChunks     int       `json:"total_chunks"`
	CompletedChunks int       `json:"completed_chunks"`
	MissingRoots    int       `json:"missing_roots"`
	Status          string    `json:"status"`
	CompletedAt     time.Time `json:"completed_at"`
}

var reportWriter = writer.NewPrettyJSONWriter[CompletionReport]()

// ReportFromCheckpoint renders a run's checkpoint as a CompletionReport.
func ReportFromCheckpoint(cp model.Checkpoint, completedAt time.Time) CompletionReport {
	return CompletionReport{
		Database:        cp.Database,
		AnnotationTable: cp.AnnotationTable,
		TotalChunks:     cp.TotalChunks,
		CompletedChunks: cp.CompletedChunks,
		MissingRoots:    cp.MissingRoots,
		Status:          cp.Status.String(),
		CompletedAt:     completedAt,
	}
}

// UploadReport writes report as pretty JSON and uploads it to store under a
// path keyed by database and table, so a completed run or repair pass leaves
// a durable record behind even after its checkpoint is eventually deleted.
func UploadReport(ctx context.Context, store storage.Storage, report CompletionReport) error {
	var buf bytes.Buffer
	if err := reportWriter.Write(report, &buf); err != nil {
		return apperrors.Wrap(apperrors.CodeInvalidInput, "rendering completion report", err)
	}

	key := fmt.Sprintf("reports/%s/%s/%s.json", report.Database, report.AnnotationTable, report.Status)
	if err := store.Upload(ctx, key, &buf); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "uploading completion report", err)
	}
	return nil
}
