// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jeranaias/parley/internal/model"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "parley.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func addConversation(t *testing.T, s *Store, userID int64) *model.Conversation {
	t.Helper()
	conv := model.NewConversation(userID, "", "openai", "gpt-4o-mini", "")
	if err := s.AddConversation(context.Background(), conv); err != nil {
		t.Fatalf("AddConversation failed: %v", err)
	}
	return conv
}

func addMessage(t *testing.T, s *Store, convID string, role model.Role, content string) *model.Message {
	t.Helper()
	msg := model.NewMessage(convID, role, content)
	if err := s.AddMessage(context.Background(), msg); err != nil {
		t.Fatalf("AddMessage failed: %v", err)
	}
	return msg
}

func TestConversationRoundTrip(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := addConversation(t, s, 0)
	got, err := s.GetConversation(ctx, conv.ID)
	if err != nil {
		t.Fatalf("GetConversation failed: %v", err)
	}
	if got.Provider != "openai" || got.Model != "gpt-4o-mini" {
		t.Errorf("unexpected conversation: %+v", got)
	}
	if got.HasTitle() {
		t.Error("new conversation should have no title")
	}

	_, err = s.GetConversation(ctx, "conv_missing")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestEditConversationTitle(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	conv := addConversation(t, s, 0)
	if err := s.EditConversationTitle(ctx, conv.ID, "Greetings"); err != nil {
		t.Fatalf("EditConversationTitle failed: %v", err)
	}
	got, _ := s.GetConversation(ctx, conv.ID)
	if got.Title != "Greetings" {
		t.Errorf("expected title to stick, got %q", got.Title)
	}

	err := s.EditConversationTitle(ctx, "conv_missing", "x")
	if !errors.Is(err, ErrConversationNotFound) {
		t.Fatalf("expected ErrConversationNotFound, got %v", err)
	}
}

func TestMessagesOrderedAndQueried(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := addConversation(t, s, 0)

	m1 := addMessage(t, s, conv.ID, model.RoleSystem, "be helpful")
	m2 := addMessage(t, s, conv.ID, model.RoleUser, "hello")
	m3 := addMessage(t, s, conv.ID, model.RoleAssistant, "hi there")

	all, err := s.GetMessages(ctx, conv.ID, MessageQuery{})
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(all))
	}
	if all[0].ID != m1.ID || all[2].ID != m3.ID {
		t.Error("messages not in creation order")
	}

	// Limit keeps the head of the history.
	head, err := s.GetMessages(ctx, conv.ID, MessageQuery{Limit: 2})
	if err != nil {
		t.Fatalf("GetMessages with limit failed: %v", err)
	}
	if len(head) != 2 || head[1].ID != m2.ID {
		t.Errorf("unexpected limited fetch: %d messages", len(head))
	}

	// Target cuts the branch below the named message.
	cut, err := s.GetMessages(ctx, conv.ID, MessageQuery{TargetID: m2.ID})
	if err != nil {
		t.Fatalf("GetMessages with target failed: %v", err)
	}
	if len(cut) != 2 || cut[len(cut)-1].ID != m2.ID {
		t.Errorf("expected history cut at target, got %d messages", len(cut))
	}

	_, err = s.GetMessages(ctx, conv.ID, MessageQuery{TargetID: "msg_missing"})
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound, got %v", err)
	}
}

func TestLastMessage(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := addConversation(t, s, 0)

	_, err := s.LastMessage(ctx, conv.ID)
	if !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("expected ErrMessageNotFound for empty conversation, got %v", err)
	}

	addMessage(t, s, conv.ID, model.RoleUser, "first")
	last := addMessage(t, s, conv.ID, model.RoleAssistant, "second")

	got, err := s.LastMessage(ctx, conv.ID)
	if err != nil {
		t.Fatalf("LastMessage failed: %v", err)
	}
	if got.ID != last.ID {
		t.Errorf("expected newest message, got %s", got.ID)
	}
}

func TestDeleteConversationCascades(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()
	conv := addConversation(t, s, 0)
	addMessage(t, s, conv.ID, model.RoleUser, "hello")

	if err := s.DeleteConversation(ctx, conv.ID); err != nil {
		t.Fatalf("DeleteConversation failed: %v", err)
	}
	msgs, err := s.GetMessages(ctx, conv.ID, MessageQuery{})
	if err != nil {
		t.Fatalf("GetMessages after delete failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("expected messages to cascade, got %d", len(msgs))
	}
}

func TestUsers(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	u, err := s.AddUser(ctx, "alice", "alice@example.com", "chat")
	if err != nil {
		t.Fatalf("AddUser failed: %v", err)
	}
	if u.ID == 0 {
		t.Error("expected assigned user ID")
	}

	_, err = s.AddUser(ctx, "alice", "", "")
	if !errors.Is(err, ErrUserExists) {
		t.Fatalf("expected ErrUserExists, got %v", err)
	}

	byName, err := s.GetUserByUsernameOrEmail(ctx, "alice")
	if err != nil || byName.ID != u.ID {
		t.Fatalf("lookup by username failed: %v", err)
	}
	byEmail, err := s.GetUserByUsernameOrEmail(ctx, "alice@example.com")
	if err != nil || byEmail.ID != u.ID {
		t.Fatalf("lookup by email failed: %v", err)
	}
	_, err = s.GetUserByID(ctx, 9999)
	if !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}

func TestConversationListOrder(t *testing.T) {
	s := testStore(t)
	ctx := context.Background()

	c1 := addConversation(t, s, 7)
	c2 := addConversation(t, s, 7)
	addConversation(t, s, 8)

	// Touch c1 so it becomes the most recently updated.
	time.Sleep(5 * time.Millisecond)
	if err := s.EditConversationTitle(ctx, c1.ID, "bumped"); err != nil {
		t.Fatalf("EditConversationTitle failed: %v", err)
	}

	list, err := s.GetConversations(ctx, 7, 0, 0)
	if err != nil {
		t.Fatalf("GetConversations failed: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 conversations for user 7, got %d", len(list))
	}
	if list[0].ID != c1.ID || list[1].ID != c2.ID {
		t.Error("conversations not ordered by recency")
	}

	page, err := s.GetConversations(ctx, 7, 1, 1)
	if err != nil {
		t.Fatalf("GetConversations with offset failed: %v", err)
	}
	if len(page) != 1 || page[0].ID != c2.ID {
		t.Error("offset did not skip the most recent conversation")
	}
}
