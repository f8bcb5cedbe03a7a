// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"os"
	"strings"
	"testing"

	"github.com/jeranaias/parley/internal/model"
)

func sampleConversation() *Conversation {
	conv := model.NewConversation(1, "Trip Planning", "openai", "gpt-4o-mini", "")
	return &Conversation{
		Record: conv,
		Messages: []*model.Message{
			model.NewMessage(conv.ID, model.RoleSystem, "You are helpful."),
			model.NewMessage(conv.ID, model.RoleUser, "Plan a trip to Oslo"),
			model.NewMessage(conv.ID, model.RoleAssistant, "Day 1: arrive."),
		},
	}
}

func TestMarkdownExport(t *testing.T) {
	data, err := NewMarkdownExporter(nil).Export(sampleConversation())
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	text := string(data)
	if !strings.HasPrefix(text, "# Trip Planning") {
		t.Errorf("missing title heading: %q", text[:40])
	}
	for _, want := range []string{"## System", "## User", "## Assistant", "Plan a trip to Oslo", "Model: gpt-4o-mini"} {
		if !strings.Contains(text, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestJSONExportRoundTrips(t *testing.T) {
	conv := sampleConversation()
	data, err := NewJSONExporter(nil).Export(conv)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	var doc struct {
		Conversation model.Conversation `json:"conversation"`
		Messages     []model.Message    `json:"messages"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("exported JSON does not parse: %v", err)
	}
	if doc.Conversation.ID != conv.Record.ID {
		t.Error("conversation ID lost in export")
	}
	if len(doc.Messages) != 3 {
		t.Errorf("expected 3 messages, got %d", len(doc.Messages))
	}
}

func TestExportToFile(t *testing.T) {
	dir := t.TempDir()
	opts := &Options{OutputDir: dir, IncludeMetadata: true}

	path, err := ExportToFile(sampleConversation(), NewMarkdownExporter(opts), opts)
	if err != nil {
		t.Fatalf("ExportToFile failed: %v", err)
	}
	if !strings.HasSuffix(path, ".md") {
		t.Errorf("unexpected extension: %s", path)
	}
	if !strings.Contains(path, "trip-planning") {
		t.Errorf("filename not derived from title: %s", path)
	}
	if _, err := os.Stat(path); err != nil {
		t.Errorf("exported file missing: %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"Trip Planning":     "trip-planning",
		"  What?! Really??": "what-really",
		"":                  "conversation",
		"///":               "conversation",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Errorf("sanitizeFilename(%q) = %q, want %q", in, got, want)
		}
	}
}
