package workflow

import (
	"github.com/hibiken/asynq"

	"github.com/segmat/segmat/internal/checkpoint"
	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/repository"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/internal/storage"
	"github.com/segmat/segmat/pkg/utils"
)

// NewMux registers every workflow task handler onto an asynq.ServeMux,
// the single place cmd/worker wires the task runtime to the materialization
// pipeline's handlers. store may be nil, in which case completion and
// repair reports are skipped rather than uploaded.
func NewMux(dbs *repository.VolumeDBCache, checkpoints *checkpoint.Store, inspector *asynq.Inspector, queueClient *queue.Client, schemas *schema.Factory, store storage.Storage, log utils.Logger) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(queue.TypeProcessChunk, ProcessChunkHandler(dbs, checkpoints, schemas, log))
	mux.Handle(queue.TypeMonitorCompletion, MonitorHandler(dbs, checkpoints, inspector, queueClient, schemas, store, log))
	mux.Handle(queue.TypeRepairMissingRoots, RepairHandler(dbs, schemas, store, log))
	mux.Handle(queue.TypeIngestNewAnnotation, IngestHandler(dbs, schemas, log))
	return mux
}
