package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/segmat/segmat/internal/checkpoint"
	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/repository"
	"github.com/segmat/segmat/internal/schema"
	"github.com/segmat/segmat/internal/workflow"
	"github.com/segmat/segmat/pkg/config"
	"github.com/segmat/segmat/pkg/model"
	"github.com/segmat/segmat/pkg/utils"

	"github.com/redis/go-redis/v9"
)

var (
	ingestConfigPath string
	ingestTable      string
	ingestSegTable   string
	ingestSchemaTag  string
	ingestIDColumn   string
	ingestMin        string
	ingestMax        string
	ingestSinceID    int64
	ingestBatchSize  int64
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Start or resume a materialization run",
	Long: `ingest drives a materialization run against an annotation table.

With --min/--max it tiles the given bounding box into a grid and submits one
chunk-processing task per cell, resuming from the last completed checkpoint
if the run was interrupted. With --since-id it instead submits one task per
batch of ids greater than the watermark, for picking up annotations added
after a prior bounding-box run completed.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestConfigPath, "config", "", "path to config file")
	ingestCmd.Flags().StringVar(&ingestTable, "table", "", "annotation table name (required)")
	ingestCmd.Flags().StringVar(&ingestSegTable, "segmentation-table", "", "segmentation table name (defaults to <table>__segmentation)")
	ingestCmd.Flags().StringVar(&ingestSchemaTag, "schema", "synapse", "schema tag (synapse, bound_tag, ...)")
	ingestCmd.Flags().StringVar(&ingestIDColumn, "id-column", "id", "primary key column name")
	ingestCmd.Flags().StringVar(&ingestMin, "min", "", "bounding box minimum corner, e.g. 0,0,0")
	ingestCmd.Flags().StringVar(&ingestMax, "max", "", "bounding box maximum corner, e.g. 1000000,1000000,1000000")
	ingestCmd.Flags().Int64Var(&ingestSinceID, "since-id", -1, "resolve ids greater than this watermark instead of a bounding box")
	ingestCmd.Flags().Int64Var(&ingestBatchSize, "batch-size", 10000, "id batch size for --since-id mode")
	ingestCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(ingestConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	log := GetLogger()
	segTable := ingestSegTable
	if segTable == "" {
		segTable = ingestTable + "__segmentation"
	}

	dbs := repository.NewVolumeDBCache(cfg.Database)
	defer dbs.CloseAll()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	checkpoints := checkpoint.New(redisClient)

	queueClient := queue.NewClient(cfg.Queue.RedisAddr)
	defer queueClient.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("received shutdown signal, stopping submission")
		cancel()
	}()

	req := workflow.RunRequest{
		Database:          cfg.Database.Database,
		AnnotationTable:   ingestTable,
		SegmentationTable: segTable,
		SchemaTag:         ingestSchemaTag,
		IDColumn:          ingestIDColumn,
		SourceURL:         cfg.SegmentationVolume.SourceURL,
		ChunkedGraphURL:   cfg.ChunkedGraph.ServiceURL,
		ChunkedGraphToken: cfg.ChunkedGraph.AuthToken,
		ChunkSize:         [3]int64{cfg.Materialization.ChunkSizeX, cfg.Materialization.ChunkSizeY, cfg.Materialization.ChunkSizeZ},
		GetRootIDs:        cfg.Materialization.GetRootIDs,
		SupervoxelBatch:   cfg.Materialization.SupervoxelBatchSize,
		CoordResolution: model.Point3D{
			X: cfg.Materialization.CoordResolutionX,
			Y: cfg.Materialization.CoordResolutionY,
			Z: cfg.Materialization.CoordResolutionZ,
		},
		ChunkScaleFactor:     cfg.Materialization.ChunkScaleFactor,
		ResumeFromCheckpoint: cfg.Materialization.ResumeFromCheckpoint,
	}

	if ingestSinceID >= 0 {
		return runIngestByIDRange(ctx, queueClient, dbs, req, log)
	}

	if ingestMin == "" || ingestMax == "" {
		return fmt.Errorf("either --since-id or both --min and --max are required")
	}
	min, err := parsePoint(ingestMin)
	if err != nil {
		return fmt.Errorf("parsing --min: %w", err)
	}
	max, err := parsePoint(ingestMax)
	if err != nil {
		return fmt.Errorf("parsing --max: %w", err)
	}
	req.Bounds = model.BoundingBox{Min: min, Max: max}

	inspector := queue.NewInspector(cfg.Queue.RedisAddr)
	driver := workflow.NewDriver(dbs, checkpoints, queueClient, inspector, schema.NewFactory(), log)
	if err := driver.Run(ctx, req); err != nil {
		return fmt.Errorf("running materialization: %w", err)
	}
	log.Info("submitted materialization run for table %s", ingestTable)
	return nil
}

func runIngestByIDRange(ctx context.Context, queueClient *queue.Client, dbs *repository.VolumeDBCache, req workflow.RunRequest, log utils.Logger) error {
	sqlDB, err := dbs.SQL(req.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	var maxID int64
	row := sqlDB.QueryRowContext(ctx, fmt.Sprintf("SELECT COALESCE(MAX(%s), 0) FROM %s", req.IDColumn, req.AnnotationTable))
	if err := row.Scan(&maxID); err != nil {
		return fmt.Errorf("finding max id: %w", err)
	}
	if maxID <= ingestSinceID {
		log.Info("no new annotations since id %d", ingestSinceID)
		return nil
	}
	if err := workflow.IngestNewAnnotations(ctx, queueClient, req, ingestSinceID+1, maxID, ingestBatchSize); err != nil {
		return err
	}
	log.Info("submitted ingest batches for ids (%d, %d]", ingestSinceID, maxID)
	return nil
}

func parsePoint(s string) (model.Point3D, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return model.Point3D{}, fmt.Errorf("expected 3 comma-separated values, got %d", len(parts))
	}
	vals := make([]float64, 3)
	for i, p := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return model.Point3D{}, err
		}
		vals[i] = v
	}
	return model.Point3D{X: vals[0], Y: vals[1], Z: vals[2]}, nil
}
