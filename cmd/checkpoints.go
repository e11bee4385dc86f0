package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/airframesio/epias-extractor/cmd/store"
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "List or delete stored extraction checkpoints",
	RunE:  runCheckpointsList,
}

var checkpointsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored checkpoints with their progress",
	RunE:  runCheckpointsList,
}

var checkpointsDeleteCmd = &cobra.Command{
	Use:   "delete <job-key>...",
	Short: "Delete checkpoints so the next extract starts over",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runCheckpointsDelete,
}

func init() {
	checkpointsCmd.AddCommand(checkpointsListCmd)
	checkpointsCmd.AddCommand(checkpointsDeleteCmd)
}

// openStoreForCommand opens the configured store for a short-lived command.
// The returned func closes it and releases the context.
func openStoreForCommand() (context.Context, store.CheckpointStore, func(), error) {
	config := loadConfig()
	initLogger(config.Debug, config.LogFormat)
	if err := config.validateCheckpoint(); err != nil {
		return nil, nil, nil, err
	}

	ctx, stop := commandContext()
	checkpoints, closeStore, err := openCheckpointStore(ctx, config)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, checkpoints, func() {
		closeStore()
		stop()
	}, nil
}

func runCheckpointsList(_ *cobra.Command, _ []string) error {
	ctx, checkpoints, release, err := openStoreForCommand()
	if err != nil {
		return err
	}
	defer release()

	viewer := NewViewer(checkpoints, nil, nil, logger)
	response, err := viewer.loadCheckpoints(ctx)
	if err != nil {
		return fmt.Errorf("failed to list checkpoints: %w", err)
	}
	printCheckpoints(os.Stdout, response.Checkpoints)
	return nil
}

func printCheckpoints(w io.Writer, summaries []CheckpointSummary) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, tableMuted.Render("No checkpoints stored"))
		return
	}

	fmt.Fprintln(w, tableHeader.Render(fmt.Sprintf("%-28s %-23s %9s %9s %7s  %s",
		"Job", "Range", "Chunks", "Records", "Failed", "Updated")))
	for _, s := range summaries {
		line := fmt.Sprintf("%-28s %-23s %4d/%-4d %9d %7d  %s",
			s.Key, s.Start+" → "+s.End, s.CompletedChunks, s.TotalChunks, s.Records,
			len(s.ChunkErrors), s.UpdatedAt.Local().Format("2006-01-02 15:04"))
		if s.CompletedChunks == s.TotalChunks {
			fmt.Fprintln(w, line)
			continue
		}
		fmt.Fprintln(w, failedStyle.Render(line))
	}
}

func runCheckpointsDelete(_ *cobra.Command, args []string) error {
	ctx, checkpoints, release, err := openStoreForCommand()
	if err != nil {
		return err
	}
	defer release()

	for _, key := range args {
		if err := checkpoints.Delete(ctx, key); err != nil {
			return fmt.Errorf("failed to delete checkpoint %s: %w", key, err)
		}
		logger.Info(fmt.Sprintf("🗑️  Deleted checkpoint %s", key))
	}
	return nil
}
