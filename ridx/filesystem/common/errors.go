package common

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Common error types used across indexer packages
var (
	ErrPathEmpty            = errors.New("path cannot be empty")
	ErrPathTooLong          = errors.New("path too long (max 4096 characters)")
	ErrPathInvalid          = errors.New("path contains invalid characters")
	ErrInvalidRelativePath  = errors.New("relative path must not start with '/'")
	ErrNotUnderRoot         = errors.New("path is not under root")
	ErrCacheRootNotWritable = errors.New("cache root is not readable and writable")
	ErrSliceNotFound        = errors.New("cache slice not found")
	ErrRootNotRegistered    = errors.New("root is not registered")
	ErrNotLocalRoot         = errors.New("root is not a local directory")
	ErrClosed               = errors.New("component is closed")
)

// ValidationUtils provides common validation utilities used across packages
type ValidationUtils struct{}

// NewValidationUtils creates a new ValidationUtils instance
func NewValidationUtils() *ValidationUtils {
	return &ValidationUtils{}
}

// ValidateContextCancellation checks if context is cancelled and returns appropriate error
func (vu *ValidationUtils) ValidateContextCancellation(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// ValidateRelativePath checks a '/'-separated path relative to a root
func (vu *ValidationUtils) ValidateRelativePath(path string) error {
	if path == "" {
		return ErrPathEmpty
	}
	if len(path) > 4096 {
		return ErrPathTooLong
	}
	if strings.ContainsAny(path, "\x00\n\r") {
		return ErrPathInvalid
	}
	if strings.HasPrefix(path, "/") {
		return ErrInvalidRelativePath
	}
	return nil
}

// ErrorUtils provides common error handling utilities
type ErrorUtils struct{}

// NewErrorUtils creates a new ErrorUtils instance
func NewErrorUtils() *ErrorUtils {
	return &ErrorUtils{}
}

// WrapError wraps an error with additional context
func (eu *ErrorUtils) WrapError(err error, message string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	context := fmt.Sprintf(message, args...)
	return fmt.Errorf("%s: %w", context, err)
}

// LogAndSwallow logs err at level and drops it. Used where an I/O failure must
// degrade to a rescan instead of reaching the caller.
func (eu *ErrorUtils) LogAndSwallow(err error, level slog.Level, message string, args ...any) {
	if err == nil {
		return
	}
	slog.Log(context.Background(), level, message, append(args, "error", err)...)
}
