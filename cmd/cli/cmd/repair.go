package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/segmat/segmat/internal/queue"
	"github.com/segmat/segmat/internal/workflow"
	"github.com/segmat/segmat/pkg/config"
)

var (
	repairConfigPath string
	repairTable      string
	repairSegTable   string
	repairSchemaTag  string
	repairIDColumn   string
	repairBatchSize  int
)

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Re-resolve root ids left unresolved by a prior run",
	Long: `repair scans a segmentation table for rows whose root id is still
zero despite having a resolved supervoxel id, re-resolves them against the
chunked graph service, and writes the results back in bulk, grouped by the
root id they resolve to.`,
	RunE: runRepair,
}

func init() {
	repairCmd.Flags().StringVar(&repairConfigPath, "config", "", "path to config file")
	repairCmd.Flags().StringVar(&repairTable, "table", "", "annotation table name (required)")
	repairCmd.Flags().StringVar(&repairSegTable, "segmentation-table", "", "segmentation table name (defaults to <table>__segmentation)")
	repairCmd.Flags().StringVar(&repairSchemaTag, "schema", "synapse", "schema tag")
	repairCmd.Flags().StringVar(&repairIDColumn, "id-column", "id", "primary key column name")
	repairCmd.Flags().IntVar(&repairBatchSize, "batch-size", 2000, "maximum rows to repair per point column per queued task")
	repairCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(repairCmd)
}

func runRepair(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(repairConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	segTable := repairSegTable
	if segTable == "" {
		segTable = repairTable + "__segmentation"
	}

	queueClient := queue.NewClient(cfg.Queue.RedisAddr)
	defer queueClient.Close()

	payload, err := json.Marshal(workflow.RepairPayload{
		Database:          cfg.Database.Database,
		AnnotationTable:   repairTable,
		SegmentationTable: segTable,
		SchemaTag:         repairSchemaTag,
		IDColumn:          repairIDColumn,
		ChunkedGraphURL:   cfg.ChunkedGraph.ServiceURL,
		ChunkedGraphToken: cfg.ChunkedGraph.AuthToken,
		BatchSize:         repairBatchSize,
	})
	if err != nil {
		return fmt.Errorf("encoding repair payload: %w", err)
	}

	if _, err := queueClient.EnqueueRepair(payload); err != nil {
		return fmt.Errorf("submitting repair task: %w", err)
	}

	GetLogger().Info("submitted repair pass for table %s", repairTable)
	return nil
}
