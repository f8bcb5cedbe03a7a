// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package backend

import (
	"context"
	"fmt"

	"github.com/jeranaias/parley/internal/budget"
	"github.com/jeranaias/parley/internal/dispatch"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/prompt"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/tokens"
)

// =============================================================================
// ASK PIPELINE
// =============================================================================

// Ask submits a prompt against the current conversation and blocks
// until the reply is complete.
func (b *Backend) Ask(ctx context.Context, userPrompt string) (*Reply, error) {
	return b.ask(ctx, userPrompt, "", false, nil)
}

// AskStream submits a prompt with incremental token delivery. The reply
// carries the full accumulated text; an interrupt mid-stream yields the
// partial text as a success.
func (b *Backend) AskStream(ctx context.Context, userPrompt string, onToken func(string)) (*Reply, error) {
	return b.ask(ctx, userPrompt, "", true, onToken)
}

// AskWithSystem submits a prompt with a one-shot system message
// override. The override applies only when the exchange opens a fresh
// conversation; an established history already carries its system
// message.
func (b *Backend) AskWithSystem(ctx context.Context, userPrompt, systemOverride string) (*Reply, error) {
	return b.ask(ctx, userPrompt, systemOverride, false, nil)
}

// askState is a consistent snapshot of the session taken under lock.
type askState struct {
	prov            provider.Provider
	client          provider.Client
	user            *model.User
	conversationID  string
	parentMessageID string
	activePreset    string
	systemMessage   string
	maxTokens       int
}

func (b *Backend) snapshot() askState {
	b.mu.Lock()
	defer b.mu.Unlock()
	st := askState{
		prov:            b.prov,
		client:          b.client,
		user:            b.currentUser,
		conversationID:  b.conversationID,
		parentMessageID: b.parentMessageID,
		activePreset:    b.activePreset,
		systemMessage:   b.systemMessage,
		maxTokens:       b.maxSubmissionTokens,
	}
	if b.overrideClient != nil {
		st.prov = b.overrideProv
		st.client = b.overrideClient
		if b.cfg.Model.MaxSubmissionTokens > 0 {
			st.maxTokens = b.cfg.Model.MaxSubmissionTokens
		} else {
			st.maxTokens = st.prov.MaxSubmissionTokens(st.client.Model())
		}
	}
	return st
}

func (b *Backend) ask(ctx context.Context, userPrompt, systemOverride string, stream bool, onToken func(string)) (*Reply, error) {
	st := b.snapshot()
	if st.prov == nil || st.client == nil {
		return nil, ErrNoProvider
	}

	// Fetch history up to the parent message pointer.
	var history []*model.Message
	if st.conversationID != "" && b.store != nil {
		var err error
		history, err = b.store.GetMessages(ctx, st.conversationID,
			storage.MessageQuery{TargetID: st.parentMessageID})
		if err != nil {
			return nil, err
		}
	}

	if systemOverride != "" {
		systemOverride = b.cfg.ResolveSystemMessage(systemOverride)
	}
	assembled := prompt.Assemble(userPrompt, history, st.systemMessage, systemOverride)

	// Chat providers get a live token count and budget enforcement;
	// others submit as-is.
	enc, err := b.estimator.EncodingForModel(st.client.Model())
	if err != nil {
		return nil, err
	}
	var liveTokens *int
	if st.prov.Capabilities().Chat {
		n := tokens.CountMessages(assembled.All, enc)
		liveTokens = &n
	}

	messages, budgetRes, err := budget.Enforce(assembled.All, liveTokens, st.maxTokens, enc)
	if err != nil {
		return nil, err
	}
	if w := budgetRes.Warning(); w != "" {
		b.notify(w)
	}

	result, err := b.dsp.Call(ctx, dispatch.Request{
		Provider: st.prov,
		Client:   st.client,
		Messages: messages,
		Stream:   stream,
		OnToken:  onToken,
		Flag:     b.flag,
	})
	if err != nil {
		return nil, err
	}

	reply := &Reply{Text: result.Text, Budget: budgetRes, Interrupted: result.Interrupted}

	// No current user: return the reply without persisting anything.
	if st.user == nil || b.store == nil {
		return reply, nil
	}

	if err := b.persistExchange(ctx, st, assembled, reply); err != nil {
		return reply, &PersistenceError{Text: reply.Text, Err: err}
	}
	return reply, nil
}

// persistExchange records the new messages of a completed exchange and
// advances the session pointers.
func (b *Backend) persistExchange(ctx context.Context, st askState, assembled prompt.Assembled, reply *Reply) error {
	conversationID := st.conversationID
	var conv *model.Conversation
	created := false

	if conversationID == "" {
		conv = model.NewConversation(st.user.ID, "", st.prov.Name(), st.client.Model(), st.activePreset)
		if err := b.store.AddConversation(ctx, conv); err != nil {
			return err
		}
		conversationID = conv.ID
		created = true
	} else {
		var err error
		conv, err = b.store.GetConversation(ctx, conversationID)
		if err != nil {
			return err
		}
	}

	for _, cm := range assembled.New {
		msg := model.NewMessage(conversationID, cm.Role, cm.Content)
		if err := b.store.AddMessage(ctx, msg); err != nil {
			return err
		}
		if cm.Role == model.RoleUser {
			reply.UserMessage = msg
		}
	}
	assistant := model.NewMessage(conversationID, model.RoleAssistant, reply.Text)
	if err := b.store.AddMessage(ctx, assistant); err != nil {
		return err
	}
	reply.AssistantMessage = assistant
	reply.Conversation = conv

	b.mu.Lock()
	b.conversationID = conversationID
	b.parentMessageID = assistant.ID
	b.mu.Unlock()
	b.refreshConversationTokens(ctx)

	if created && b.cfg.Chat.TitleGeneration {
		b.spawnTitleTask(conversationID)
	}
	return nil
}

// refreshConversationTokens recomputes the live token count from the
// stored history. Non-chat providers clear the count.
func (b *Backend) refreshConversationTokens(ctx context.Context) {
	st := b.snapshot()
	if st.conversationID == "" || b.store == nil || st.prov == nil || !st.prov.Capabilities().Chat {
		b.mu.Lock()
		b.conversationTokens = nil
		b.mu.Unlock()
		return
	}

	history, err := b.store.GetMessages(ctx, st.conversationID,
		storage.MessageQuery{TargetID: st.parentMessageID})
	if err != nil {
		b.logger.Printf("failed to recount conversation tokens: %v", err)
		return
	}
	enc, err := b.estimator.EncodingForModel(st.client.Model())
	if err != nil {
		return
	}
	n := tokens.CountMessages(model.ToChat(history), enc)

	b.mu.Lock()
	b.conversationTokens = &n
	b.mu.Unlock()
}

// =============================================================================
// CONVERSATION MANAGEMENT
// =============================================================================

// SwitchToConversation loads a stored conversation into the session and
// restores its provider context. Restoration falls back: the stored
// preset first, then the stored provider/model pair, then the
// configured default provider. Fallback failures are warnings, not
// errors.
func (b *Backend) SwitchToConversation(ctx context.Context, conversationID string) error {
	return b.switchToConversation(ctx, conversationID, "")
}

// SwitchToConversationAt is SwitchToConversation with an explicit
// parent message pointer, rewinding the session to an earlier point in
// the conversation. Subsequent asks branch from that message.
func (b *Backend) SwitchToConversationAt(ctx context.Context, conversationID, parentMessageID string) error {
	return b.switchToConversation(ctx, conversationID, parentMessageID)
}

func (b *Backend) switchToConversation(ctx context.Context, conversationID, parentMessageID string) error {
	if b.store == nil {
		return storage.ErrConversationNotFound
	}
	conv, err := b.store.GetConversation(ctx, conversationID)
	if err != nil {
		return err
	}

	restored := false
	if conv.Preset != "" {
		if err := b.ActivatePreset(conv.Preset); err != nil {
			b.notify(fmt.Sprintf("preset %q for conversation %s unavailable: %v", conv.Preset, conv.ID, err))
		} else {
			restored = true
		}
	}
	if !restored && conv.Provider != "" {
		customizations := map[string]any{}
		if conv.Model != "" {
			customizations["model"] = conv.Model
		}
		if err := b.SetProvider(conv.Provider, customizations); err != nil {
			b.notify(fmt.Sprintf("provider %q for conversation %s unavailable: %v", conv.Provider, conv.ID, err))
		} else {
			restored = true
		}
	}
	if !restored {
		fallback := b.cfg.Chat.DefaultProvider
		if err := b.SetProvider(fallback, nil); err != nil {
			b.notify(fmt.Sprintf("default provider %q unavailable for conversation %s: %v", fallback, conv.ID, err))
		} else {
			b.notify(fmt.Sprintf("conversation %s falls back to the default provider %q", conv.ID, fallback))
		}
	}

	parentID := parentMessageID
	if parentID == "" {
		if last, err := b.store.LastMessage(ctx, conversationID); err == nil {
			parentID = last.ID
		}
	} else {
		// Validate the pointer before adopting it.
		if _, err := b.store.GetMessages(ctx, conversationID, storage.MessageQuery{TargetID: parentID}); err != nil {
			return err
		}
	}

	b.mu.Lock()
	b.conversationID = conversationID
	b.parentMessageID = parentID
	b.mu.Unlock()
	b.refreshConversationTokens(ctx)
	return nil
}

// History returns the current conversation's messages up to the parent
// pointer. A new conversation has no history.
func (b *Backend) History(ctx context.Context) ([]*model.Message, error) {
	st := b.snapshot()
	if st.conversationID == "" || b.store == nil {
		return nil, nil
	}
	return b.store.GetMessages(ctx, st.conversationID,
		storage.MessageQuery{TargetID: st.parentMessageID})
}

// ListConversations returns the current user's conversations, most
// recent first.
func (b *Backend) ListConversations(ctx context.Context, limit int) ([]*model.Conversation, error) {
	st := b.snapshot()
	if st.user == nil || b.store == nil {
		return nil, nil
	}
	return b.store.GetConversations(ctx, st.user.ID, limit, 0)
}

// DeleteConversation removes a stored conversation. Deleting the
// current conversation resets the session to a fresh one.
func (b *Backend) DeleteConversation(ctx context.Context, conversationID string) error {
	if b.store == nil {
		return storage.ErrConversationNotFound
	}
	if err := b.store.DeleteConversation(ctx, conversationID); err != nil {
		return err
	}
	b.mu.Lock()
	if b.conversationID == conversationID {
		b.conversationID = ""
		b.parentMessageID = ""
		b.conversationTokens = nil
	}
	b.mu.Unlock()
	return nil
}

// SetTitle sets a conversation's title directly.
func (b *Backend) SetTitle(ctx context.Context, conversationID, title string) error {
	if b.store == nil {
		return storage.ErrConversationNotFound
	}
	return b.store.EditConversationTitle(ctx, conversationID, title)
}
