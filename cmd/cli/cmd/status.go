package cmd

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/segmat/segmat/internal/checkpoint"
	"github.com/segmat/segmat/pkg/config"
)

var (
	statusConfigPath string
	statusTable      string
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a materialization run's checkpoint",
	Long:  `status reads a run's checkpoint from Redis and prints its progress.`,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&statusConfigPath, "config", "", "path to config file")
	statusCmd.Flags().StringVar(&statusTable, "table", "", "annotation table name (required)")
	statusCmd.MarkFlagRequired("table")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(statusConfigPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	defer redisClient.Close()
	store := checkpoint.New(redisClient)

	cp, err := store.Get(context.Background(), cfg.Database.Database, statusTable)
	if err != nil {
		return fmt.Errorf("reading checkpoint: %w", err)
	}

	fmt.Printf("table:            %s\n", statusTable)
	fmt.Printf("status:           %s\n", cp.Status)
	fmt.Printf("completed chunks: %d/%d\n", cp.CompletedChunks, cp.TotalChunks)
	fmt.Printf("missing roots:    %d\n", cp.MissingRoots)
	fmt.Printf("bounds:           %s\n", cp.Bounds)
	if cp.Done() {
		fmt.Println("run is complete")
	}
	return nil
}
