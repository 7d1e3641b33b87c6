package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/acme-corp/pg-mongo-migrator/internal/checkpoint"
	"github.com/acme-corp/pg-mongo-migrator/internal/ingestion"
	"github.com/acme-corp/pg-mongo-migrator/internal/migrate"
)

var planCmd = &cobra.Command{
	Use:   "plan",
	Short: "Count the source rows and show the batches a run would migrate",
	Long: `Count the rows selected by source.query, partition them into batches and
compare the partition with the checkpoint. Nothing is written.`,
	RunE: showPlan,
}

func init() {
	rootCmd.AddCommand(planCmd)

	flags := planCmd.Flags()
	flags.Int("batch-size", 1000, "rows per batch")
	flags.Bool("list", false, "print every pending batch")
}

func showPlan(cmd *cobra.Command, _ []string) error {
	// batch-size is registered on both run and plan
	if err := bindFlag(cmd.Flags(), "batch_size", "batch-size"); err != nil {
		return fatal(err)
	}
	cfg, log, err := setup()
	if err != nil {
		return fatal(err)
	}
	ctx := cmd.Context()

	reader, err := ingestion.NewPostgresReader(ctx, ingestion.PostgresOptions{
		DSN:      cfg.SourceDSN(),
		Query:    cfg.Source.Query,
		OrderBy:  cfg.Source.OrderBy,
		MaxConns: 1,
	})
	if err != nil {
		log.Error(err, "Failed to connect to PostgreSQL")
		return fatal(err)
	}
	defer reader.Close()

	runner := &migrate.Runner{Reader: reader, BatchSize: int64(cfg.BatchSize), Log: log}
	total, batches, err := runner.Plan(ctx)
	if err != nil {
		return exitForError(err)
	}
	resume, err := checkpoint.NewFileStore(cfg.Checkpoint.Path).Load(ctx)
	if err != nil {
		return fatal(err)
	}

	list, _ := cmd.Flags().GetBool("list")
	writePlan(cmd.OutOrStdout(), total, int64(cfg.BatchSize), resume, batches, list)
	return nil
}

func writePlan(w io.Writer, total, batchSize, resume int64, batches []ingestion.Batch, list bool) {
	pending := 0
	for _, b := range batches {
		if b.ID >= resume {
			pending++
		}
	}
	fmt.Fprintf(w, "records:    %d\n", total)
	fmt.Fprintf(w, "batch size: %d\n", batchSize)
	fmt.Fprintf(w, "batches:    %d\n", len(batches))
	fmt.Fprintf(w, "checkpoint: %d\n", resume)
	fmt.Fprintf(w, "pending:    %d\n", pending)
	if !list {
		return
	}
	for _, b := range batches {
		if b.ID < resume {
			continue
		}
		fmt.Fprintf(w, "  batch %d: offset=%d limit=%d\n", b.ID, b.Offset, b.Limit)
	}
}
