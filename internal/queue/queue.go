// Package queue wraps hibiken/asynq as the task runtime that drives chunk
// processing, completion monitoring, and repair, taking the place of Celery
// in the source system.
package queue

import (
	"time"

	"github.com/hibiken/asynq"
)

// Task type names, namespaced the way the source system prefixes its task
// names with "workflow:"/"process:".
const (
	TypeProcessChunk        = "workflow:process_chunk"
	TypeMonitorCompletion   = "workflow:monitor_completion"
	TypeRepairMissingRoots  = "workflow:repair_missing_roots"
	TypeIngestNewAnnotation = "workflow:ingest_new_annotations"
)

// Queue names, used to give ingest workflows priority over repair's lower
// urgency backfill work.
const (
	QueueIngest  = "ingest"
	QueueRepair  = "repair"
	QueueDefault = "default"
)

// Client enqueues tasks onto the asynq task runtime with per-workflow retry
// policies.
type Client struct {
	inner *asynq.Client
}

// NewClient returns a Client connected to the given Redis address.
func NewClient(redisAddr string) *Client {
	return &Client{inner: asynq.NewClient(asynq.RedisClientOpt{Addr: redisAddr})}
}

// Close releases the client's Redis connection.
func (c *Client) Close() error { return c.inner.Close() }

// EnqueueChunk submits a single chunk for processing, retried up to 10 times
// with exponential backoff since a transient database or chunked-graph
// failure should not abandon a chunk outright.
func (c *Client) EnqueueChunk(payload []byte) (*asynq.TaskInfo, error) {
	task := asynq.NewTask(TypeProcessChunk, payload)
	return c.inner.Enqueue(task,
		asynq.Queue(QueueIngest),
		asynq.MaxRetry(10),
		asynq.RetryDelayFunc(exponentialBackoff),
	)
}

// EnqueueMonitor submits the self-re-enqueuing completion monitor task.
func (c *Client) EnqueueMonitor(payload []byte, delay time.Duration) (*asynq.TaskInfo, error) {
	task := asynq.NewTask(TypeMonitorCompletion, payload)
	return c.inner.Enqueue(task,
		asynq.Queue(QueueDefault),
		asynq.ProcessIn(delay),
		asynq.MaxRetry(3),
	)
}

// EnqueueRepair submits a missing-roots repair batch, retried less
// aggressively than ingest chunks since repair work is already a backfill
// over previously-committed rows and can simply wait for the next scheduled
// pass on failure.
func (c *Client) EnqueueRepair(payload []byte) (*asynq.TaskInfo, error) {
	task := asynq.NewTask(TypeRepairMissingRoots, payload)
	return c.inner.Enqueue(task,
		asynq.Queue(QueueRepair),
		asynq.MaxRetry(6),
		asynq.RetryDelayFunc(fixedDelay(3*time.Second)),
	)
}

// EnqueueIngest submits a new-annotations ingest batch.
func (c *Client) EnqueueIngest(payload []byte) (*asynq.TaskInfo, error) {
	task := asynq.NewTask(TypeIngestNewAnnotation, payload)
	return c.inner.Enqueue(task,
		asynq.Queue(QueueIngest),
		asynq.MaxRetry(10),
		asynq.RetryDelayFunc(exponentialBackoff),
	)
}

func exponentialBackoff(n int, _ error, _ *asynq.Task) time.Duration {
	return time.Duration(1<<uint(n)) * time.Second
}

func fixedDelay(d time.Duration) asynq.RetryDelayFunc {
	return func(int, error, *asynq.Task) time.Duration { return d }
}

// NewServer returns an asynq server tuned for the given concurrency, with
// queue priorities matching QueueIngest > QueueRepair > QueueDefault so
// ingest chunk processing is never starved by a backlog of repair work.
func NewServer(redisAddr string, concurrency int) *asynq.Server {
	return asynq.NewServer(
		asynq.RedisClientOpt{Addr: redisAddr},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				QueueIngest:  3,
				QueueRepair:  2,
				QueueDefault: 1,
			},
		},
	)
}

// NewInspector returns an asynq Inspector for querying queue depth, used by
// the workflow driver's throttled submission loop and the completion
// monitor.
func NewInspector(redisAddr string) *asynq.Inspector {
	return asynq.NewInspector(asynq.RedisClientOpt{Addr: redisAddr})
}
