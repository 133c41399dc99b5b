package model

import "time"

// CheckpointStatus is the lifecycle state of a materialization run's
// checkpoint record.
type CheckpointStatus int

const (
	// CheckpointStatusInitializing is set the moment a run's checkpoint hash
	// is created, before the driver has computed a chunking strategy or
	// submitted any chunk tasks.
	CheckpointStatusInitializing CheckpointStatus = iota
	// CheckpointStatusProcessing covers the span while chunk tasks are being
	// submitted and worked through.
	CheckpointStatusProcessing
	// CheckpointStatusSubmitted marks that every chunk the run's strategy
	// produced has been handed to the queue; the completion monitor takes
	// over from here.
	CheckpointStatusSubmitted
	CheckpointStatusCompleted
	// CheckpointStatusError marks a run that failed outright or whose
	// completion monitor gave up after its hard timeout; LastError carries
	// the reason.
	CheckpointStatusError
)

func (s CheckpointStatus) String() string {
	switch s {
	case CheckpointStatusInitializing:
		return "initializing"
	case CheckpointStatusProcessing:
		return "processing"
	case CheckpointStatusSubmitted:
		return "submitted"
	case CheckpointStatusCompleted:
		return "completed"
	case CheckpointStatusError:
		return "error"
	default:
		return "unknown"
	}
}

// Checkpoint is the resumable progress record for one materialization run,
// persisted in the checkpoint store as a single hash keyed by database and
// annotation table.
type Checkpoint struct {
	Database        string
	AnnotationTable string
	Bounds          BoundingBox
	TotalChunks     int
	CompletedChunks int
	MissingRoots    int
	Status          CheckpointStatus

	// TaskID identifies the asynq task (the scheduled completion monitor)
	// an operator can inspect to find this run in the queue.
	TaskID string
	// ChunkingStrategyTag names the chunking strategy the driver selected
	// for this run ("single", "grid", or "streaming"), recorded so a
	// resumed run reuses the same strategy rather than re-deriving it from
	// a row estimate that may have since changed.
	ChunkingStrategyTag string
	// UsedChunkSize is the chunk edge length, in voxels, the selected
	// strategy actually tiled the bounding box with.
	UsedChunkSize [3]int64
	// TotalRowEstimate is the annotation row count the driver estimated
	// when choosing a chunking strategy.
	TotalRowEstimate int64

	// LastError carries the reason a run moved to CheckpointStatusError,
	// e.g. "Monitoring timed out".
	LastError string
	// IndexRebuildComplete reports whether the completion monitor has
	// finished dropping and rebuilding the segmentation table's indices.
	IndexRebuildComplete bool

	// StartedAt is when the run's checkpoint was first created, the basis
	// for both TotalTimeSeconds and the completion monitor's 72-hour
	// timeout.
	StartedAt time.Time
	UpdatedAt time.Time
}

// TotalTimeSeconds returns the wall-clock duration the run has been alive,
// from StartedAt to UpdatedAt.
func (c Checkpoint) TotalTimeSeconds() float64 {
	if c.StartedAt.IsZero() {
		return 0
	}
	return c.UpdatedAt.Sub(c.StartedAt).Seconds()
}

// Done reports whether every chunk named by the checkpoint has been
// committed.
func (c Checkpoint) Done() bool {
	return c.TotalChunks > 0 && c.CompletedChunks >= c.TotalChunks
}

// NextIndex returns the chunk index a resumed run should submit next.
func (c Checkpoint) NextIndex() int {
	return c.CompletedChunks
}
