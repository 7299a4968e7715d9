// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/pkg/tagstream"
	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/pkg/ux"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

// chatHistorySize is how many lines the interactive reader remembers.
const chatHistorySize = 100

// REPL commands. Anything else is sent to the architect.
const (
	replExit   = "/exit"
	replQuit   = "/quit"
	replAccept = "/accept"
	replNew    = "/new"
	replShow   = "/show"
	replHelp   = "/help"
)

// confirmFunc asks the user a turn's questions.
type confirmFunc func(ctx context.Context, items []techdoc.ConfirmItem) (*ux.ConfirmAnswers, error)

// =============================================================================
// Design Session
// =============================================================================

// designSession is one project's conversation as seen from the terminal.
//
// # Description
//
// Each turn streams the answer through a tagstream.Parser into a terminal
// span renderer, then prints what the answer changed. The conversation id
// the server assigns on the first turn is kept for the following ones.
//
// # Thread Safety
//
// Not safe for concurrent use; the REPL drives it from one goroutine.
type designSession struct {
	client         *architectClient
	projectKey     string
	conversationID string
	mode           string
	out            io.Writer
	personality    ux.Personality
	confirm        confirmFunc
}

func newDesignSession(client *architectClient, projectKey, conversationID, mode string, out io.Writer) *designSession {
	return &designSession{
		client:         client,
		projectKey:     projectKey,
		conversationID: conversationID,
		mode:           mode,
		out:            out,
		personality:    ux.GetPersonality(),
	}
}

// Turn sends command and renders the streamed answer.
//
// # Inputs
//
//   - ctx: Cancelling it drops the connection, which aborts the turn on the
//     server without committing anything.
//   - command: The user's instruction.
//
// # Outputs
//
//   - *ux.Transcript: The turn as received. Result is nil when the turn
//     failed.
//   - error: Transport errors, or ux.ErrStreamFailed when the server ended
//     the turn with an error event.
func (s *designSession) Turn(ctx context.Context, command string) (*ux.Transcript, error) {
	req := datatypes.DesignTurnRequest{
		ProjectKey:     s.projectKey,
		ConversationID: s.conversationID,
		Command:        command,
		Mode:           s.mode,
	}
	return s.render(func(callback ux.StreamCallback) (*ux.Transcript, error) {
		return s.client.DesignStream(ctx, req, callback)
	})
}

// Init runs the module split for the session's project. The server accepts
// the result itself.
func (s *designSession) Init(ctx context.Context, req datatypes.InitModulesRequest) (*ux.Transcript, error) {
	return s.render(func(callback ux.StreamCallback) (*ux.Transcript, error) {
		return s.client.InitModules(ctx, s.projectKey, req, callback)
	})
}

// render drives a terminal renderer with the stream opened by call.
func (s *designSession) render(call func(ux.StreamCallback) (*ux.Transcript, error)) (*ux.Transcript, error) {
	renderer := ux.NewTerminalSpanRenderer(s.out, s.personality)
	renderer.Wait("Designing")
	parser := tagstream.New(renderer)

	transcript, err := call(ux.FeedParser(parser, nil))
	renderer.Stop()
	if err != nil {
		parser.Cancel()
		return transcript, err
	}
	// A stream that ended without done or error still flushes what it had.
	parser.Finish()

	if transcript.ConversationID != "" {
		s.conversationID = transcript.ConversationID
	}
	fmt.Fprintln(s.out)
	if transcript.HasError() {
		return transcript, fmt.Errorf("%w: %s", ux.ErrStreamFailed, transcript.Error)
	}
	if transcript.Result != nil {
		s.printResult(transcript.Result)
	}
	return transcript, nil
}

// printResult summarizes a committed turn.
func (s *designSession) printResult(r *ux.TurnResult) {
	if s.personality.Level == ux.PersonalityMachine {
		fmt.Fprintf(s.out, "RESULT\t%s\t%s\n", s.conversationID, ux.MutationCounts(r.AnswerMutation))
		return
	}
	if r.AnswerMutation.IsEmpty() {
		fmt.Fprintln(s.out, ux.Styles.Muted.Render("No changes to the design."))
		return
	}
	fmt.Fprintln(s.out, ux.Styles.Subtitle.Render("This answer: "+ux.MutationCounts(r.AnswerMutation)))
	fmt.Fprintln(s.out, ux.FormatChangeLines(techdoc.Summarize(r.AnswerMutation)))
	fmt.Fprintln(s.out, ux.Styles.Muted.Render("Conversation so far: "+ux.MutationCounts(r.ConversationMutation)))
}

// Loop reads commands from input until EOF or an exit command.
//
// A failed turn is reported and the loop continues. When a turn asks
// questions and the session can confirm, the answers are sent as the next
// turn.
func (s *designSession) Loop(ctx context.Context, input ux.InputReader) error {
	if p, ok := input.(ux.PromptingInputReader); ok {
		p.SetPrompt(s.projectKey + "> ")
	}
	for {
		if ctx.Err() != nil {
			return nil
		}
		line, err := input.ReadLine()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}
		if line == "" {
			continue
		}

		switch strings.ToLower(line) {
		case replExit, replQuit:
			return nil
		case replHelp:
			s.printHelp()
			continue
		case replNew:
			s.conversationID = ""
			ux.Info("Started a new conversation")
			continue
		case replAccept:
			s.accept(ctx)
			continue
		case replShow:
			s.show(ctx)
			continue
		}

		s.runTurn(ctx, line)
	}
}

// runTurn runs command and any follow-up produced by answering its questions.
func (s *designSession) runTurn(ctx context.Context, command string) {
	for command != "" {
		transcript, err := s.Turn(ctx, command)
		if err != nil {
			ux.Error(err.Error())
			return
		}
		command = ""
		if s.confirm == nil || transcript.Result == nil || len(transcript.Result.Suggestion) == 0 {
			return
		}
		answers, err := s.confirm(ctx, transcript.Result.Suggestion)
		if errors.Is(err, ux.ErrConfirmAborted) {
			return
		}
		if err != nil {
			ux.Warning(err.Error())
			return
		}
		command = answers.FollowUp()
	}
}

func (s *designSession) accept(ctx context.Context) {
	if s.conversationID == "" {
		ux.Warning("Nothing to accept yet")
		return
	}
	res, err := s.client.Accept(ctx, s.conversationID)
	if err != nil {
		ux.Error(err.Error())
		return
	}
	ux.Success(fmt.Sprintf("Accepted into %s (snapshot %s)", res.ProjectKey, res.SnapshotID))
}

func (s *designSession) show(ctx context.Context) {
	if s.conversationID == "" {
		ux.Warning("No conversation yet")
		return
	}
	conv, err := s.client.Conversation(ctx, s.conversationID)
	if err != nil {
		ux.Error(err.Error())
		return
	}
	ux.Box("Conversation "+conv.ConversationID, fmt.Sprintf("%d messages\n%s",
		len(conv.Messages), ux.MutationCounts(conv.ConversationMutation)))
	if !conv.ConversationMutation.IsEmpty() {
		fmt.Fprintln(s.out, ux.FormatChangeLines(techdoc.Summarize(conv.ConversationMutation)))
	}
}

func (s *designSession) printHelp() {
	ux.Box("Commands", strings.Join([]string{
		replAccept + "  accept this conversation into the project",
		replShow + "    show what this conversation changed",
		replNew + "     start a new conversation",
		replExit + "    leave",
	}, "\n"))
}

// =============================================================================
// Command
// =============================================================================

func runChat(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	client := newArchitectClient(serverURL, nil)
	session := newDesignSession(client, projectKey, conversationID, designMode, cmd.OutOrStdout())

	if len(args) > 0 {
		_, err := session.Turn(ctx, strings.Join(args, " "))
		if err == nil && session.conversationID != "" {
			ux.Muted("conversation: " + session.conversationID)
		}
		return err
	}

	var input ux.InputReader
	if ux.IsInteractive() {
		input = ux.NewInteractiveInputReader(chatHistorySize)
		session.confirm = func(ctx context.Context, items []techdoc.ConfirmItem) (*ux.ConfirmAnswers, error) {
			return ux.RunConfirmForm(ctx, items, nil, nil)
		}
		ux.Title("Designing " + projectKey)
		ux.Muted("Type " + replHelp + " for commands")
	} else {
		input = ux.NewStdinReader(cmd.InOrStdin())
	}
	return session.Loop(ctx, input)
}

// commandContext returns cmd's context, or Background when the command was
// executed without one.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
