// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/jeranaias/parley/internal/export"
	"github.com/jeranaias/parley/internal/model"
	"github.com/jeranaias/parley/internal/util"
)

const helpText = `commands:
  /new                      start a fresh conversation
  /switch <id>              switch to a stored conversation
  /conversations            list your conversations
  /history                  show the current conversation
  /delete <id>              delete a conversation
  /title <id> <text>        set a conversation title
  /export [md|json]         export the current conversation to a file
  /presets                  list presets
  /preset <name>            activate a preset
  /provider <name> [model]  switch provider
  /model <name>             switch model on the current provider
  /system <alias|text>      set the system message
  /stream [on|off]          toggle streaming replies
  /register <user> [email]  create a user
  /login <user>             log in (enables persistence)
  /logout                   log out (replies become ephemeral)
  /quit                     exit`

// runCommand executes a slash command. It returns true when the shell
// should exit.
func (s *Shell) runCommand(ctx context.Context, input string) (bool, error) {
	fields := strings.Fields(input)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/help":
		fmt.Fprintln(s.out, helpText)

	case "/quit", "/exit":
		return true, nil

	case "/new":
		s.backend.NewConversation()
		fmt.Fprintln(s.out, "started a new conversation")

	case "/switch":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /switch <id>")
		}
		if err := s.backend.SwitchToConversation(ctx, args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "switched to %s\n", args[0])

	case "/conversations":
		return false, s.listConversations(ctx)

	case "/history":
		return false, s.showHistory(ctx)

	case "/delete":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /delete <id>")
		}
		if err := s.backend.DeleteConversation(ctx, args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "deleted %s\n", args[0])

	case "/title":
		if len(args) < 2 {
			return false, fmt.Errorf("usage: /title <id> <text>")
		}
		title := strings.Join(args[1:], " ")
		if err := s.backend.SetTitle(ctx, args[0], title); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "title set to %q\n", title)

	case "/export":
		format := "md"
		if len(args) > 0 {
			format = args[0]
		}
		return false, s.exportConversation(ctx, format)

	case "/presets":
		if s.presets == nil {
			return false, fmt.Errorf("presets are not configured")
		}
		for _, name := range s.presets.Names() {
			marker := " "
			if name == s.backend.ActivePreset() {
				marker = "*"
			}
			fmt.Fprintf(s.out, "%s %s\n", marker, name)
		}

	case "/preset":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /preset <name>")
		}
		if err := s.backend.ActivatePreset(args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "preset %s active (%s)\n", args[0], s.backend.ModelName())

	case "/provider":
		if len(args) < 1 {
			return false, fmt.Errorf("usage: /provider <name> [model]")
		}
		var customizations map[string]any
		if len(args) > 1 {
			customizations = map[string]any{"model": args[1]}
		}
		if err := s.backend.SetProvider(args[0], customizations); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "provider %s active (%s)\n", args[0], s.backend.ModelName())

	case "/model":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /model <name>")
		}
		if err := s.backend.SetModel(args[0]); err != nil {
			return false, err
		}
		fmt.Fprintf(s.out, "model %s active\n", args[0])

	case "/system":
		if len(args) < 1 {
			fmt.Fprintln(s.out, s.backend.SystemMessage())
			return false, nil
		}
		s.backend.SetSystemMessage(strings.Join(args, " "))
		fmt.Fprintf(s.out, "system message: %s\n", s.backend.SystemMessage())

	case "/stream":
		streaming := s.backend.Streaming()
		switch {
		case len(args) == 0:
			streaming = !streaming
		case args[0] == "on":
			streaming = true
		case args[0] == "off":
			streaming = false
		default:
			return false, fmt.Errorf("usage: /stream [on|off]")
		}
		s.backend.SetStreaming(streaming)
		fmt.Fprintf(s.out, "streaming: %v\n", streaming)

	case "/register":
		if s.store == nil {
			return false, fmt.Errorf("no store configured")
		}
		if len(args) < 1 {
			return false, fmt.Errorf("usage: /register <user> [email]")
		}
		email := ""
		if len(args) > 1 {
			email = args[1]
		}
		user, err := s.store.AddUser(ctx, args[0], email, "")
		if err != nil {
			return false, err
		}
		s.backend.SetCurrentUser(user)
		fmt.Fprintf(s.out, "registered and logged in as %s\n", user.Username)

	case "/login":
		if s.store == nil {
			return false, fmt.Errorf("no store configured")
		}
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /login <user>")
		}
		user, err := s.store.GetUserByUsernameOrEmail(ctx, args[0])
		if err != nil {
			return false, err
		}
		s.backend.SetCurrentUser(user)
		fmt.Fprintf(s.out, "logged in as %s\n", user.Username)

	case "/logout":
		s.backend.SetCurrentUser(nil)
		fmt.Fprintln(s.out, "logged out; replies are no longer persisted")

	default:
		return false, fmt.Errorf("unknown command %s (try /help)", cmd)
	}
	return false, nil
}

func (s *Shell) listConversations(ctx context.Context) error {
	convs, err := s.backend.ListConversations(ctx, 50)
	if err != nil {
		return err
	}
	if len(convs) == 0 {
		fmt.Fprintln(s.out, "no conversations (log in and ask something)")
		return nil
	}
	current := s.backend.ConversationID()
	for _, c := range convs {
		marker := " "
		if c.ID == current {
			marker = "*"
		}
		title := c.Title
		if title == "" {
			title = "(untitled)"
		}
		fmt.Fprintf(s.out, "%s %s  %s\n", marker, c.ID, util.TruncateRunes(title, 60))
	}
	return nil
}

func (s *Shell) showHistory(ctx context.Context) error {
	messages, err := s.backend.History(ctx)
	if err != nil {
		return err
	}
	if len(messages) == 0 {
		fmt.Fprintln(s.out, "no history yet")
		return nil
	}
	for _, m := range messages {
		fmt.Fprintf(s.out, "[%s] %s\n", m.Role, m.Content)
	}
	return nil
}

func (s *Shell) exportConversation(ctx context.Context, format string) error {
	convID := s.backend.ConversationID()
	if convID == "" || s.store == nil {
		return fmt.Errorf("no current conversation to export")
	}
	record, err := s.store.GetConversation(ctx, convID)
	if err != nil {
		return err
	}
	var messages []*model.Message
	messages, err = s.backend.History(ctx)
	if err != nil {
		return err
	}

	opts := export.DefaultOptions()
	var exporter export.Exporter
	switch format {
	case "md", "markdown":
		exporter = export.NewMarkdownExporter(opts)
	case "json":
		exporter = export.NewJSONExporter(opts)
	default:
		return fmt.Errorf("unknown export format %q (md or json)", format)
	}

	path, err := export.ExportToFile(&export.Conversation{Record: record, Messages: messages}, exporter, opts)
	if err != nil {
		return err
	}
	fmt.Fprintf(s.out, "exported to %s\n", path)
	return nil
}
