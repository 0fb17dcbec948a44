package internal

import (
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

var (
	// DefaultAppName is used for config lookup and the default cache location
	DefaultAppName        = "ridx"
	DefaultConfigPath     = filepath.Join(getHomeDir(), ".config", DefaultAppName)
	DefaultCacheDir       = filepath.Join(DefaultConfigPath, ".cache")
	DefaultStoreFileName  = "index.db"
	DefaultIgnoreFileName = ".gitignore"
)

func getHomeDir() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		// Fallback to current working directory if home directory is unavailable
		cwd, cwdErr := os.Getwd()
		if cwdErr != nil {
			log.Printf("Unable to get home or working directory, using /tmp: %v", err)
			return "/tmp"
		}
		log.Printf("Unable to get home directory, using current working directory: %v", err)
		return cwd
	}
	return homeDir
}

// GetLogger returns a JSON zerolog logger at the given level
func GetLogger(level string) zerolog.Logger {
	return zerolog.New(os.Stderr).Level(parseLevel(level)).With().Timestamp().Logger()
}

// GetConsoleLogger returns a human readable zerolog logger at the given level.
func GetConsoleLogger(level string) zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(parseLevel(level)).
		With().
		Timestamp().
		Logger()
}

// LoggerFor returns the logger of a configured format, "json" or "console"
func LoggerFor(format, level string) zerolog.Logger {
	if strings.EqualFold(format, "json") {
		return GetLogger(level)
	}
	return GetConsoleLogger(level)
}

// parseLevel falls back to info for unknown level names
func parseLevel(level string) zerolog.Level {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return lvl
}
