package main

import (
	"fmt"
	"path/filepath"
	"strings"

	internal "github.com/ZanzyTHEbar/root-indexer/ridx"
	"github.com/ZanzyTHEbar/root-indexer/ridx/cachefolder"
	"github.com/ZanzyTHEbar/root-indexer/ridx/config"
	"github.com/ZanzyTHEbar/root-indexer/ridx/indexstore"
	"github.com/ZanzyTHEbar/root-indexer/ridx/roots"
	"github.com/ZanzyTHEbar/root-indexer/ridx/updater"

	"github.com/spf13/cobra"
)

var (
	configPath string
	logLevel   string
	logFormat  string
	cacheDir   string
	binaryArgs []string

	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "ridx",
	Short: "ridx - incremental indexer for source and binary roots",
	Long: `ridx keeps an index of registered source folders and binary archives
up to date, re-reading only what changed since the previous run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		loaded, err := config.LoadConfig(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			loaded.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			loaded.Log.Format = logFormat
		}
		if cmd.Flags().Changed("cache-dir") {
			loaded.Indexer.CacheDir = cacheDir
		}
		internal.InstallDefault(internal.LoggerFor(loaded.Log.Format, loaded.Log.Level))
		cfg = loaded
		return nil
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", internal.DefaultCacheDir, "Cache directory for slices and the index store")
}

// session is everything a command needs to index
type session struct {
	provider *cachefolder.Provider
	store    *indexstore.Store
	updater  *updater.Updater
}

func openSession(watch bool) (*session, error) {
	provider, err := cachefolder.NewProvider(cfg.Indexer.CacheDir,
		cachefolder.WithSaveDelay(cfg.Indexer.SegmentsSaveDelay()))
	if err != nil {
		return nil, err
	}
	store, err := indexstore.Open(cfg.StoreDSN())
	if err != nil {
		provider.Close()
		return nil, err
	}

	c := *cfg
	c.Watcher.Enabled = cfg.Watcher.Enabled && watch
	u, err := updater.New(&c, provider, store)
	if err != nil {
		store.Close()
		provider.Close()
		return nil, err
	}
	return &session{provider: provider, store: store, updater: u}, nil
}

func (s *session) close() {
	s.updater.Close()
	s.store.Close()
	s.provider.Close()
}

// register adds the source folders in args and the binaries in binaryArgs.
// Nothing is crawled until the caller scans.
func (s *session) register(args []string) error {
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return fmt.Errorf("invalid root %q: %w", arg, err)
		}
		if err := s.updater.Track(roots.FromPath(abs), roots.KindSource); err != nil {
			return err
		}
	}
	for _, arg := range binaryArgs {
		root := roots.Root(arg)
		if !strings.Contains(arg, "://") {
			abs, err := filepath.Abs(arg)
			if err != nil {
				return fmt.Errorf("invalid binary %q: %w", arg, err)
			}
			root = roots.FromPath(abs)
		}
		if err := s.updater.Track(root, roots.KindBinary); err != nil {
			return err
		}
	}
	return nil
}
