// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the interactive chat shell.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"

	"github.com/jeranaias/parley/internal/backend"
	"github.com/jeranaias/parley/internal/config"
	"github.com/jeranaias/parley/internal/preset"
	"github.com/jeranaias/parley/internal/storage"
)

// historyFile is the shell history filename under the config dir.
const historyFile = "history"

// Shell is the interactive chat loop.
type Shell struct {
	backend *backend.Backend
	store   *storage.Store
	presets *preset.Manager
	out     io.Writer

	line     *liner.State
	histPath string
}

// New creates a shell over the given backend.
func New(b *backend.Backend, store *storage.Store, presets *preset.Manager) *Shell {
	return &Shell{
		backend: b,
		store:   store,
		presets: presets,
		out:     os.Stdout,
	}
}

// Run starts the read-eval loop and blocks until the user quits or the
// context is canceled.
func (s *Shell) Run(ctx context.Context) error {
	s.line = liner.NewLiner()
	defer s.line.Close()
	s.line.SetCtrlCAborts(true)

	if dir, err := config.ConfigDir(); err == nil {
		s.histPath = filepath.Join(dir, historyFile)
		if f, err := os.Open(s.histPath); err == nil {
			s.line.ReadHistory(f)
			f.Close()
		}
	}
	defer s.saveHistory()

	fmt.Fprintln(s.out, "parley — type a message, /help for commands, /quit to exit")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		input, err := s.line.Prompt(s.promptString())
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(s.out)
			return nil
		}
		if err != nil {
			return err
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		s.line.AppendHistory(input)

		if strings.HasPrefix(input, "/") {
			quit, err := s.runCommand(ctx, input)
			if err != nil {
				fmt.Fprintf(s.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
			continue
		}

		s.ask(ctx, input)
	}
}

func (s *Shell) promptString() string {
	user := "anon"
	if u := s.backend.CurrentUser(); u != nil {
		user = u.Username
	}
	if n := s.backend.ConversationTokens(); n != nil {
		return fmt.Sprintf("%s(%d)> ", user, *n)
	}
	return user + "> "
}

func (s *Shell) ask(ctx context.Context, prompt string) {
	streaming := s.backend.Streaming()

	var reply *backend.Reply
	var err error
	if streaming {
		// Ctrl-C during the stream stops generation, keeping the
		// partial reply.
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt)
		done := make(chan struct{})
		go func() {
			select {
			case <-sig:
				s.backend.Interrupt()
			case <-done:
			}
		}()

		reply, err = s.backend.AskStream(ctx, prompt, func(tok string) {
			fmt.Fprint(s.out, tok)
		})
		close(done)
		signal.Stop(sig)
		fmt.Fprintln(s.out)
	} else {
		reply, err = s.backend.Ask(ctx, prompt)
		if reply != nil {
			fmt.Fprintln(s.out, reply.Text)
		}
	}

	var perr *backend.PersistenceError
	switch {
	case errors.As(err, &perr):
		// The reply was produced; only recording it failed.
		fmt.Fprintf(s.out, "warning: %v\n", perr)
	case err != nil:
		fmt.Fprintf(s.out, "error: %v\n", err)
	}
	if reply != nil && reply.Interrupted {
		fmt.Fprintln(s.out, "(generation stopped)")
	}
	if reply != nil && reply.Budget.Evicted > 0 {
		fmt.Fprintln(s.out, reply.Budget.Warning())
	}
}

func (s *Shell) saveHistory() {
	if s.histPath == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(s.histPath), 0o755); err != nil {
		return
	}
	f, err := os.Create(s.histPath)
	if err != nil {
		return
	}
	defer f.Close()
	s.line.WriteHistory(f)
}
