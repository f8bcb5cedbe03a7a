// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"

	"github.com/jeranaias/parley/internal/model"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders a conversation as a markdown document.
type MarkdownExporter struct {
	opts *Options
}

// NewMarkdownExporter creates a markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{opts: opts}
}

// Export implements Exporter.
func (e *MarkdownExporter) Export(conv *Conversation) ([]byte, error) {
	var b strings.Builder

	title := conv.Record.Title
	if strings.TrimSpace(title) == "" {
		title = "Untitled conversation"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)

	if e.opts.IncludeMetadata {
		fmt.Fprintf(&b, "- Provider: %s\n", conv.Record.Provider)
		fmt.Fprintf(&b, "- Model: %s\n", conv.Record.Model)
		if conv.Record.Preset != "" {
			fmt.Fprintf(&b, "- Preset: %s\n", conv.Record.Preset)
		}
		fmt.Fprintf(&b, "- Created: %s\n\n", formatTimestamp(conv.Record.CreatedAt))
	}

	for _, msg := range conv.Messages {
		fmt.Fprintf(&b, "## %s\n\n", roleLabel(msg.Role))
		if e.opts.IncludeTimestamps {
			fmt.Fprintf(&b, "_%s_\n\n", formatTimestamp(msg.CreatedAt))
		}
		b.WriteString(strings.TrimSpace(msg.Content))
		b.WriteString("\n\n")
	}

	return []byte(b.String()), nil
}

// FileExtension implements Exporter.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

func roleLabel(role model.Role) string {
	switch role {
	case model.RoleSystem:
		return "System"
	case model.RoleUser:
		return "User"
	case model.RoleAssistant:
		return "Assistant"
	}
	return string(role)
}
