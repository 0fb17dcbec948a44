package internal

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologHandler_RendersAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewZerologHandler(zerolog.New(&buf)))

	logger.With("component", "crawler").WithGroup("crawl").Info("Crawl finished",
		"root", "file:///src",
		"files", 3,
		"error", errors.New("boom"))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "Crawl finished", line["message"])
	assert.Equal(t, "crawler", line["component"])
	assert.Equal(t, "file:///src", line["crawl.root"])
	assert.Equal(t, float64(3), line["crawl.files"])
	assert.Equal(t, "boom", line["crawl.error"])
}

func TestZerologHandler_RespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	h := NewZerologHandler(zerolog.New(&buf).Level(zerolog.WarnLevel))
	logger := slog.New(h)

	logger.Debug("hidden")
	logger.Info("hidden")
	assert.Empty(t, buf.String())

	logger.Warn("shown")
	assert.Contains(t, buf.String(), "shown")
}
