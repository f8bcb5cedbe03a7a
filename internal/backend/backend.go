// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package backend is the conversational controller. It tracks the
// current user, conversation, provider, and preset, assembles prompts
// from stored history, enforces the token budget, dispatches requests,
// and persists completed exchanges.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/jeranaias/parley/internal/budget"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/dispatch"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/preset"
	"github.com/jeranaias/parley/internal/provider"
	"github.com/jeranaias/parley/internal/storage"
	"github.com/jeranaias/parley/internal/tasks"
	"github.com/jeranaias/parley/internal/tokens"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrNoProvider indicates no provider is active.
var ErrNoProvider = errors.New("no provider active")

// PersistenceError indicates the model produced a reply but recording
// the exchange failed. The reply text is preserved on the error.
type PersistenceError struct {
	Text string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist exchange: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// =============================================================================
// REPLY
// =============================================================================

// Reply is the outcome of a successful ask.
type Reply struct {
	// Text is the assistant's reply, possibly partial for an
	// interrupted stream.
	Text string

	// Conversation is the owning conversation, nil for ephemeral
	// exchanges (no current user).
	Conversation *model.Conversation

	// UserMessage and AssistantMessage are the persisted records, nil
	// for ephemeral exchanges.
	UserMessage      *model.Message
	AssistantMessage *model.Message

	// Budget reports any history eviction that happened before
	// submission.
	Budget budget.Result

	// Interrupted reports that the stream was cut short; Text holds
	// the partial reply.
	Interrupted bool
}

// =============================================================================
// BACKEND
// =============================================================================

// Backend is the conversational controller. Safe for concurrent reads;
// asks and session mutations are serialized by an internal lock.
type Backend struct {
	cfg       *config.Config
	store     *storage.Store
	registry  *provider.Registry
	presets   *preset.Manager
	runner    *tasks.Runner
	estimator *tokens.Estimator
	dsp       *dispatch.Dispatcher
	flag      *dispatch.Flag
	logger    *log.Logger
	notify    func(string)

	mu sync.Mutex

	// Session state.
	currentUser     *model.User
	conversationID  string
	parentMessageID string
	activePreset    string
	systemMessage   string
	streaming       bool

	prov   provider.Provider
	client provider.Client

	// One-shot override pair, used instead of the active client until
	// cleared.
	overrideProv   provider.Provider
	overrideClient provider.Client

	// conversationTokens is the live token count of the current
	// conversation, nil when the active provider is not chat-capable.
	conversationTokens  *int
	maxSubmissionTokens int
}

// Options configures a backend.
type Options struct {
	Config    *config.Config
	Store     *storage.Store
	Registry  *provider.Registry
	Presets   *preset.Manager
	Runner    *tasks.Runner
	Estimator *tokens.Estimator
	Logger    *log.Logger

	// Notify receives non-fatal warnings (budget evictions, fallback
	// switches). Defaults to the logger.
	Notify func(string)
}

// New creates a backend and activates the configured default provider,
// preset, and user.
func New(opts Options) (*Backend, error) {
	if opts.Config == nil {
		opts.Config = config.Global()
	}
	if opts.Registry == nil {
		return nil, errors.New("provider registry is required")
	}
	if opts.Runner == nil {
		opts.Runner = tasks.NewRunner()
	}
	if opts.Estimator == nil {
		opts.Estimator = tokens.NewEstimator()
	}
	if opts.Logger == nil {
		opts.Logger = log.New(os.Stderr, "parley: ", log.LstdFlags)
	}

	b := &Backend{
		cfg:           opts.Config,
		store:         opts.Store,
		registry:      opts.Registry,
		presets:       opts.Presets,
		runner:        opts.Runner,
		estimator:     opts.Estimator,
		dsp:           dispatch.NewDispatcher(),
		flag:          &dispatch.Flag{},
		logger:        opts.Logger,
		notify:        opts.Notify,
		systemMessage: opts.Config.ResolveSystemMessage(opts.Config.Chat.SystemMessage),
		streaming:     opts.Config.Chat.Streaming,
	}
	if b.notify == nil {
		b.notify = func(msg string) { b.logger.Print(msg) }
	}

	if opts.Config.Backend.DefaultPreset != "" && b.presets != nil {
		if err := b.ActivatePreset(opts.Config.Backend.DefaultPreset); err != nil {
			b.logger.Printf("default preset %q unavailable: %v", opts.Config.Backend.DefaultPreset, err)
		}
	}
	if b.prov == nil {
		if err := b.SetProvider(opts.Config.Chat.DefaultProvider, nil); err != nil {
			return nil, err
		}
	}

	if opts.Config.Backend.DefaultUser != "" && b.store != nil {
		user, err := b.store.GetUserByUsernameOrEmail(context.Background(), opts.Config.Backend.DefaultUser)
		if err != nil {
			b.logger.Printf("default user %q unavailable: %v", opts.Config.Backend.DefaultUser, err)
		} else {
			b.SetCurrentUser(user)
		}
	}
	return b, nil
}

// Close releases background resources.
func (b *Backend) Close() {
	b.runner.Stop()
}

// =============================================================================
// PROVIDER AND MODEL SELECTION
// =============================================================================

// SetProvider activates a provider with the given customizations,
// replacing the active client and clearing the active preset.
func (b *Backend) SetProvider(name string, customizations map[string]any) error {
	prov, err := b.registry.Resolve(name)
	if err != nil {
		return err
	}
	client, err := prov.MakeClient(customizations)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.prov = prov
	b.client = client
	b.activePreset = ""
	b.refreshBudgetLocked()
	return nil
}

// SetModel switches the active provider to a different model, keeping
// other customizations at their defaults.
func (b *Backend) SetModel(modelName string) error {
	b.mu.Lock()
	prov := b.prov
	b.mu.Unlock()
	if prov == nil {
		return ErrNoProvider
	}

	client, err := prov.MakeClient(map[string]any{"model": modelName})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.client = client
	b.refreshBudgetLocked()
	return nil
}

// ActivatePreset switches the session to a named preset: its provider,
// customizations, and system message.
func (b *Backend) ActivatePreset(name string) error {
	if b.presets == nil {
		return preset.ErrPresetNotFound
	}
	p, err := b.presets.Get(name)
	if err != nil {
		return err
	}
	prov, err := b.registry.Resolve(p.Metadata.Provider)
	if err != nil {
		return err
	}
	client, err := prov.MakeClient(p.Customizations)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.prov = prov
	b.client = client
	b.activePreset = name
	if p.Metadata.SystemMessage != "" {
		b.systemMessage = b.cfg.ResolveSystemMessage(p.Metadata.SystemMessage)
	}
	b.refreshBudgetLocked()
	return nil
}

// ActivePreset returns the active preset name, empty when none.
func (b *Backend) ActivePreset() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activePreset
}

// SetOverrideClient installs a one-shot provider/client pair that is
// used for asks instead of the active pair until cleared. Preset
// streaming customizations are not merged into overrides.
func (b *Backend) SetOverrideClient(providerName string, customizations map[string]any) error {
	prov, err := b.registry.Resolve(providerName)
	if err != nil {
		return err
	}
	client, err := prov.MakeClient(customizations)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrideProv = prov
	b.overrideClient = client
	return nil
}

// ClearOverrideClient removes the override pair.
func (b *Backend) ClearOverrideClient() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.overrideProv = nil
	b.overrideClient = nil
}

// Provider returns the active provider, nil when none.
func (b *Backend) Provider() provider.Provider {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prov
}

// ModelName returns the active client's model, empty when none.
func (b *Backend) ModelName() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client == nil {
		return ""
	}
	return b.client.Model()
}

// refreshBudgetLocked recomputes the submission budget for the active
// model. Caller holds b.mu.
func (b *Backend) refreshBudgetLocked() {
	if b.cfg.Model.MaxSubmissionTokens > 0 {
		b.maxSubmissionTokens = b.cfg.Model.MaxSubmissionTokens
		return
	}
	if b.prov != nil && b.client != nil {
		b.maxSubmissionTokens = b.prov.MaxSubmissionTokens(b.client.Model())
	}
}

// =============================================================================
// SESSION STATE
// =============================================================================

// SetCurrentUser sets the logged-in user and activates the user's
// default preset when one is configured. A nil user makes subsequent
// exchanges ephemeral: replies are returned but never persisted.
func (b *Backend) SetCurrentUser(user *model.User) {
	b.mu.Lock()
	b.currentUser = user
	b.conversationID = ""
	b.parentMessageID = ""
	b.conversationTokens = nil
	b.mu.Unlock()

	if user != nil && user.DefaultPreset != "" {
		if err := b.ActivatePreset(user.DefaultPreset); err != nil {
			b.notify(fmt.Sprintf("default preset %q for user %s unavailable: %v", user.DefaultPreset, user.Username, err))
		}
	}
}

// CurrentUser returns the logged-in user, nil when anonymous.
func (b *Backend) CurrentUser() *model.User {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.currentUser
}

// SetSystemMessage sets the system message for new conversations,
// resolving configured aliases.
func (b *Backend) SetSystemMessage(nameOrText string) {
	resolved := b.cfg.ResolveSystemMessage(nameOrText)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.systemMessage = resolved
}

// SystemMessage returns the current system message.
func (b *Backend) SystemMessage() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.systemMessage
}

// SetStreaming toggles incremental delivery for subsequent asks.
func (b *Backend) SetStreaming(on bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streaming = on
}

// Streaming reports whether asks should stream.
func (b *Backend) Streaming() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.streaming
}

// ConversationID returns the current conversation ID, empty for a new
// conversation.
func (b *Backend) ConversationID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversationID
}

// ConversationTokens returns the live token count of the current
// conversation, or nil when the active provider is not chat-capable.
func (b *Backend) ConversationTokens() *int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conversationTokens
}

// Interrupt requests cancellation of an in-flight streaming ask. It
// reports whether a stream was actually interrupted.
func (b *Backend) Interrupt() bool {
	return b.flag.Trigger()
}

// NewConversation resets the session to a fresh conversation.
func (b *Backend) NewConversation() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.conversationID = ""
	b.parentMessageID = ""
	b.conversationTokens = nil
}
