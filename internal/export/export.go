// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export writes conversations out as markdown or JSON files.
package export

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

// =============================================================================
// EXPORT INTERFACE
// =============================================================================

// Conversation bundles a conversation record with its ordered messages
// for export.
type Conversation struct {
	Record   *model.Conversation
	Messages []*model.Message
}

// Exporter converts a conversation to one output format.
type Exporter interface {
	// Export renders the conversation and returns the file content.
	Export(conv *Conversation) ([]byte, error)

	// FileExtension returns the output extension (e.g. ".md").
	FileExtension() string
}

// Options configures export behavior.
type Options struct {
	// OutputDir is where files are written (default: working directory).
	OutputDir string

	// IncludeMetadata includes a header with model and timestamps.
	IncludeMetadata bool

	// IncludeTimestamps includes per-message timestamps.
	IncludeTimestamps bool
}

// DefaultOptions returns the default export options.
func DefaultOptions() *Options {
	return &Options{IncludeMetadata: true}
}

// =============================================================================
// FILE EXPORT
// =============================================================================

// ExportToFile renders the conversation and writes it under the output
// directory, returning the written path. The filename derives from the
// conversation title, falling back to its ID.
func ExportToFile(conv *Conversation, exporter Exporter, opts *Options) (string, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	data, err := exporter.Export(conv)
	if err != nil {
		return "", fmt.Errorf("failed to render conversation: %w", err)
	}

	name := conv.Record.Title
	if strings.TrimSpace(name) == "" {
		name = conv.Record.ID
	}
	filename := sanitizeFilename(name) + "-" + time.Now().Format("20060102-150405") + exporter.FileExtension()
	path := filepath.Join(opts.OutputDir, filename)

	if err := util.AtomicWriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// sanitizeFilename reduces a title to a safe filename stem.
func sanitizeFilename(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastDash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash && b.Len() > 0 {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		out = "conversation"
	}
	return util.TruncateRunesNoEllipsis(out, 60)
}

func formatTimestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}
