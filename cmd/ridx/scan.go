package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan [folders...]",
	Short: "Index source folders and binaries once",
	Long: `Crawl the given source folders and index every file that changed since
the previous scan. Files that disappeared are removed from the index.

Examples:
  ridx scan .                          # Index the current folder
  ridx scan src docs --binary lib.jar  # Two folders and one binary`,
	RunE: runScan,
}

var watchCmd = &cobra.Command{
	Use:   "watch [folders...]",
	Short: "Index source folders and keep them current",
	Long: `Scan the given folders, then follow filesystem changes until interrupted.

Examples:
  ridx watch .                         # Index and watch the current folder`,
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(watchCmd)

	for _, c := range []*cobra.Command{scanCmd, watchCmd} {
		c.Flags().StringSliceVarP(&binaryArgs, "binary", "b", nil, "Binary roots to index (paths or URLs)")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runScan(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && len(binaryArgs) == 0 {
		args = []string{"."}
	}
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := s.register(args); err != nil {
		return err
	}
	res, err := s.updater.Scan(ctx)
	if err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}
	if err := s.updater.Wait(ctx); err != nil {
		return fmt.Errorf("scan interrupted: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Scanned %d root(s) in %s\n", res.Roots, res.Duration.Round(1e6))
	fmt.Fprintf(out, "  indexed: %d\n", res.Indexed)
	fmt.Fprintf(out, "  deleted: %d\n", res.Deleted)
	if len(binaryArgs) > 0 {
		fmt.Fprintf(out, "  binaries: %d/%d\n", len(res.BinariesIndexed), len(binaryArgs))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	s, err := openSession(true)
	if err != nil {
		return err
	}
	defer s.close()

	ctx, cancel := signalContext()
	defer cancel()

	if err := s.register(args); err != nil {
		return err
	}
	res, err := s.updater.Scan(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Indexed %d file(s) in %d root(s); watching for changes (Ctrl+C to stop)\n",
		res.Indexed, res.Roots)

	<-ctx.Done()
	fmt.Fprintln(cmd.OutOrStdout(), "Stopping")
	s.updater.Flush()
	return nil
}
