package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/ZanzyTHEbar/root-indexer/ridx/cachefolder"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"

	"github.com/spf13/cobra"
)

var (
	slicesUnder string
	slicesPrune bool
)

var rootsCmd = &cobra.Command{
	Use:   "roots",
	Short: "List indexed roots",
	Long:  `List every root that has a cache slice, with its indexed document count, and every indexed binary.`,
	Args:  cobra.NoArgs,
	RunE:  runRoots,
}

var slicesCmd = &cobra.Command{
	Use:   "slices",
	Short: "Show the cache slice table",
	Long: `Show which cache slice belongs to which root.

Examples:
  ridx slices                          # Every slice
  ridx slices --under ~/src            # Slices of roots inside ~/src
  ridx slices --prune                  # Drop slices of folders that no longer exist`,
	Args: cobra.NoArgs,
	RunE: runSlices,
}

func init() {
	rootCmd.AddCommand(rootsCmd)
	rootCmd.AddCommand(slicesCmd)

	slicesCmd.Flags().StringVar(&slicesUnder, "under", "", "Only roots inside this folder")
	slicesCmd.Flags().BoolVar(&slicesPrune, "prune", false, "Remove slices and documents of missing local roots")
}

func runRoots(cmd *cobra.Command, _ []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.close()
	ctx := context.Background()

	bindings := s.provider.Bindings()
	names := make([]string, 0, len(bindings))
	for name := range bindings {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return bindings[names[i]] < bindings[names[j]] })

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ROOT\tSLICE\tDOCUMENTS")
	for _, name := range names {
		root := bindings[name]
		docs, err := s.store.Documents(ctx, root)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s\t%s\t%d\n", root, name, len(docs))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	bins, err := s.store.Binaries(ctx)
	if err != nil {
		return err
	}
	if len(bins) > 0 {
		fmt.Fprintln(cmd.OutOrStdout())
		w = tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "BINARY\tSIZE\tINDEXED")
		for _, b := range bins {
			fmt.Fprintf(w, "%s\t%d\t%s\n", b.Root, b.Size, b.IndexedAt.Format("2006-01-02 15:04:05"))
		}
		return w.Flush()
	}
	return nil
}

func runSlices(cmd *cobra.Command, _ []string) error {
	s, err := openSession(false)
	if err != nil {
		return err
	}
	defer s.close()

	var selected []roots.Root
	if slicesUnder != "" {
		abs, err := filepath.Abs(slicesUnder)
		if err != nil {
			return fmt.Errorf("invalid folder %q: %w", slicesUnder, err)
		}
		selected = s.provider.FindRootsUnderFolder(roots.FromPath(abs))
	} else {
		for _, root := range s.provider.Bindings() {
			selected = append(selected, root)
		}
	}
	roots.Sort(selected)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SLICE\tROOT\tSTATUS")
	for _, root := range selected {
		slice, err := s.provider.GetOrCreateSlice(root, cachefolder.ModeExistent)
		if err != nil {
			continue
		}
		status := "ok"
		if dir, ok := root.Path(); ok {
			if _, err := os.Stat(dir); err != nil {
				status = "missing"
				if slicesPrune {
					if err := s.store.DeleteRoot(context.Background(), root); err != nil {
						return err
					}
					s.provider.RemoveSlice(root)
					status = "pruned"
				}
			}
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", slice.Name(), root, status)
	}
	return w.Flush()
}
