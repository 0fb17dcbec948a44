package common

// This package contains shared utilities and types used across the indexer packages.
// It provides path manipulation between root directories and '/'-separated
// relative paths, sentinel errors, and crawl/pool metrics.
