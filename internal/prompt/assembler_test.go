// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"testing"

	"github.com/jeranaias/parley/internal/model"
)

func TestAssemble_EmptyHistoryInjectsSystem(t *testing.T) {
	got := Assemble("Hello", nil, "You are helpful", "")

	if len(got.New) != 2 {
		t.Fatalf("New has %d messages, want 2", len(got.New))
	}
	if got.New[0].Role != model.RoleSystem || got.New[0].Content != "You are helpful" {
		t.Errorf("New[0] = %+v, want system %q", got.New[0], "You are helpful")
	}
	if got.New[1].Role != model.RoleUser || got.New[1].Content != "Hello" {
		t.Errorf("New[1] = %+v, want user %q", got.New[1], "Hello")
	}
	if len(got.All) != 2 {
		t.Errorf("All has %d messages, want 2", len(got.All))
	}
	if got.All[0].Role != model.RoleSystem {
		t.Errorf("All[0].Role = %s, want system", got.All[0].Role)
	}
}

func TestAssemble_OverrideWinsOverSessionSystem(t *testing.T) {
	got := Assemble("Hello", nil, "default system", "override system")

	if got.New[0].Content != "override system" {
		t.Errorf("New[0].Content = %q, want override", got.New[0].Content)
	}
}

func TestAssemble_NonEmptyHistorySkipsSystem(t *testing.T) {
	history := []*model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "Hi"},
		{ID: "m2", Role: model.RoleAssistant, Content: "Hello"},
	}

	got := Assemble("How are you?", history, "You are helpful", "")

	if len(got.New) != 1 {
		t.Fatalf("New has %d messages, want 1", len(got.New))
	}
	if got.New[0].Role != model.RoleUser {
		t.Errorf("New[0].Role = %s, want user", got.New[0].Role)
	}

	want := []model.ChatMessage{
		{Role: model.RoleUser, Content: "Hi"},
		{Role: model.RoleAssistant, Content: "Hello"},
		{Role: model.RoleUser, Content: "How are you?"},
	}
	if len(got.All) != len(want) {
		t.Fatalf("All has %d messages, want %d", len(got.All), len(want))
	}
	for i, w := range want {
		if got.All[i].Role != w.Role || got.All[i].Content != w.Content {
			t.Errorf("All[%d] = %+v, want %+v", i, got.All[i], w)
		}
	}
	for _, m := range got.All {
		if m.Role == model.RoleSystem {
			t.Error("no system message should be injected with non-empty history")
		}
	}
}

func TestAssemble_Pure(t *testing.T) {
	history := []*model.Message{
		{ID: "m1", Role: model.RoleUser, Content: "Hi"},
	}

	first := Assemble("Again", history, "sys", "")
	second := Assemble("Again", history, "sys", "")

	if len(first.All) != len(second.All) {
		t.Fatalf("repeated assembly differs: %d vs %d", len(first.All), len(second.All))
	}
	if history[0].Content != "Hi" {
		t.Error("Assemble must not mutate its inputs")
	}
}
