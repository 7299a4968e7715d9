// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent turns a design request into a model answer and the
// structured changes it carries.
//
// # Description
//
// The agent assembles the chat messages for a mode (system prompts, the
// requirements, prior history, the current document and the command),
// streams the model's answer token by token to the caller, and then runs the
// mutation and confirm-form extractors over the complete text.
//
// # Thread Safety
//
// An Agent is safe for concurrent use if its ChatClient is.
package agent

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"

	"github.com/AleutianAI/AleutianArchitect/pkg/extract"
	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/pkg/telemetry"
	"github.com/AleutianAI/AleutianArchitect/services/llm"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	tracerName = "aleutian.architect.agent"
	meterName  = "aleutian.architect.agent"
)

//go:embed prompts/*.md
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").ParseFS(promptFS, "prompts/*.md"))

var (
	// ErrGeneration wraps failures of the model stream.
	ErrGeneration = errors.New("answer generation failed")

	// ErrUnknownMode is returned for a mode the agent does not support.
	ErrUnknownMode = errors.New("unknown design mode")

	// ErrDeleteDropped is reported as a warning when an update-modified
	// answer tried to delete items.
	ErrDeleteDropped = errors.New("delete mutations dropped")
)

// =============================================================================
// Modes
// =============================================================================

// Mode selects the prompts and post-processing of a run.
type Mode string

const (
	// ModeInitModules splits the requirements into modules.
	ModeInitModules Mode = "init_modules"

	// ModeModuleDesign answers a free-form design command.
	ModeModuleDesign Mode = "module_design"

	// ModeUpdateModified converts a hand-edited document into mutations.
	// Delete mutations are removed from the answer.
	ModeUpdateModified Mode = "update_modified"
)

// ParseMode maps a request mode onto a Mode. Empty means ModeModuleDesign.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeModuleDesign:
		return ModeModuleDesign, nil
	case ModeInitModules, ModeUpdateModified:
		return Mode(s), nil
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// =============================================================================
// Request and Answer
// =============================================================================

// Request is the input of one run.
type Request struct {
	Mode Mode

	// Command is the user's instruction. For ModeUpdateModified it is the
	// edited document. Ignored for ModeInitModules.
	Command string

	PRD             string
	TechConstraints string

	// History is the conversation before this turn. Messages with empty
	// content are skipped.
	History []datatypes.Message

	// Current is the document the answer will patch.
	Current techdoc.Snapshot
}

// Answer is the complete model answer and what was extracted from it.
type Answer struct {
	Content      string
	Mutation     techdoc.MutationSet
	ConfirmItems []techdoc.ConfirmItem

	// Dropped holds mutations removed by the mode's filter.
	Dropped techdoc.MutationSet

	// Warnings lists recoverable extraction problems.
	Warnings []error
}

// =============================================================================
// Agent
// =============================================================================

// Agent runs design requests against a chat model.
type Agent struct {
	client  llm.ChatClient
	params  llm.GenerationParams
	logger  *slog.Logger
	metrics *observability.ArchitectMetrics

	issues    metric.Int64Counter
	mutations metric.Int64Counter
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithParams overrides the generation parameters sent with every request.
func WithParams(p llm.GenerationParams) Option {
	return func(a *Agent) { a.params = p }
}

// WithMetrics records design request metrics on m. Nil disables them.
func WithMetrics(m *observability.ArchitectMetrics) Option {
	return func(a *Agent) { a.metrics = m }
}

// New creates an Agent on client.
func New(client llm.ChatClient, opts ...Option) *Agent {
	a := &Agent{client: client, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}

	meter := otel.Meter(meterName)
	var err error
	if a.issues, err = meter.Int64Counter("architect.agent.extraction_issues",
		metric.WithDescription("Malformed elements found while extracting answers")); err != nil {
		a.logger.Warn("extraction issue counter unavailable", "error", err)
	}
	if a.mutations, err = meter.Int64Counter("architect.agent.mutations",
		metric.WithDescription("Mutations extracted from answers")); err != nil {
		a.logger.Warn("mutation counter unavailable", "error", err)
	}
	return a
}

// Run streams one answer and extracts its changes.
//
// # Description
//
// Every non-empty model chunk is appended to the answer and passed to
// onToken. An error from onToken or from the model aborts the run; no
// extraction happens in that case.
//
// # Outputs
//
//   - *Answer: The extracted answer. An answer without mutations is valid.
//   - error: ErrGeneration wrapping the cause, or ErrUnknownMode.
func (a *Agent) Run(ctx context.Context, req Request, onToken func(string) error) (*Answer, error) {
	ctx, span := telemetry.StartSpan(ctx, tracerName, "agent.Run",
		attribute.String("mode", string(req.Mode)))
	defer span.End()

	messages, err := BuildMessages(req)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	var content strings.Builder
	err = a.client.ChatStream(ctx, messages, a.params, func(ev llm.StreamEvent) error {
		if ev.Type != llm.StreamEventToken || ev.Content == "" {
			return nil
		}
		content.WriteString(ev.Content)
		if onToken != nil {
			return onToken(ev.Content)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("%w: %w", ErrGeneration, err)
	}

	answer := Extract(req.Mode, content.String())
	a.observe(ctx, req.Mode, answer)
	span.SetAttributes(
		attribute.Int("answer_bytes", len(answer.Content)),
		attribute.Int("mutations", answer.Mutation.Len()),
		attribute.Int("confirm_items", len(answer.ConfirmItems)))
	telemetry.SetSpanOK(span)
	return answer, nil
}

// Extract runs both extractors over a complete answer and applies the
// mode's mutation filter.
func Extract(mode Mode, content string) *Answer {
	set, mutationErrs := extract.ExtractMutations(content)
	items, confirmErrs := extract.ExtractConfirmItems(content)

	answer := &Answer{
		Content:      content,
		Mutation:     set,
		ConfirmItems: items,
		Dropped:      techdoc.MutationSet{},
	}
	answer.Warnings = append(answer.Warnings, mutationErrs...)
	answer.Warnings = append(answer.Warnings, confirmErrs...)

	if mode == ModeUpdateModified {
		kept, removed := set.Without(techdoc.MutationDelete)
		answer.Mutation = kept
		answer.Dropped = removed
		if !removed.IsEmpty() {
			answer.Warnings = append(answer.Warnings,
				fmt.Errorf("%w: %d item(s)", ErrDeleteDropped, removed.Len()))
		}
	}
	return answer
}

func (a *Agent) observe(ctx context.Context, mode Mode, answer *Answer) {
	for _, w := range answer.Warnings {
		a.logger.Warn("answer extraction issue", "mode", mode, "error", w)
	}
	if answer.Mutation.IsEmpty() {
		a.logger.Error("answer carried no mutations",
			"mode", mode, "content_bytes", len(answer.Content))
	}

	counts := answer.Mutation.CountByType()
	byType := make(map[string]int, len(counts))
	for t, n := range counts {
		byType[string(t)] = n
		if a.mutations != nil {
			a.mutations.Add(ctx, int64(n), metric.WithAttributes(attribute.String("type", string(t))))
		}
	}
	a.metrics.RecordMutations(byType)

	issues := len(answer.Warnings)
	if issues > 0 && a.issues != nil {
		a.issues.Add(ctx, int64(issues), metric.WithAttributes(attribute.String("mode", string(mode))))
	}
	var mutationIssues, confirmIssues int
	for _, w := range answer.Warnings {
		if errors.Is(w, ErrDeleteDropped) {
			continue
		}
		var el *extract.ElementError
		if errors.As(w, &el) && (el.Element == marker.SelectElement || el.Element == marker.InputElement) {
			confirmIssues++
		} else {
			mutationIssues++
		}
	}
	a.metrics.RecordExtractionIssues(observability.ExtractorMutations, mutationIssues)
	a.metrics.RecordExtractionIssues(observability.ExtractorConfirm, confirmIssues)
}

// =============================================================================
// Prompt Assembly
// =============================================================================

// BuildMessages assembles the chat messages for req: system prompts, the
// requirements, history, the current document and the command.
func BuildMessages(req Request) ([]datatypes.Message, error) {
	var command string
	allowQuestions := false
	switch req.Mode {
	case ModeInitModules:
		command = "command_init.md"
	case ModeModuleDesign:
		command = "command_design.md"
		allowQuestions = true
	case ModeUpdateModified:
		command = "command_update_modified.md"
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, req.Mode)
	}

	history := make([]datatypes.Message, 0, len(req.History))
	for _, m := range req.History {
		if strings.TrimSpace(m.Content) != "" {
			history = append(history, m)
		}
	}

	state, err := json.Marshal(req.Current)
	if err != nil {
		return nil, fmt.Errorf("encode current document: %w", err)
	}

	definition, err := render("definition.md", map[string]any{"Categories": techdoc.Categories()})
	if err != nil {
		return nil, err
	}
	format, err := render("response_format.md", map[string]any{"AllowQuestions": allowQuestions})
	if err != nil {
		return nil, err
	}
	preamble, err := render("context.md", map[string]any{
		"PRD":             req.PRD,
		"TechConstraints": strings.TrimSpace(req.TechConstraints),
		"HasHistory":      len(history) > 0,
	})
	if err != nil {
		return nil, err
	}
	current, err := render("current_state.md", map[string]any{"State": string(state)})
	if err != nil {
		return nil, err
	}
	cmd, err := render(command, map[string]any{"Command": req.Command})
	if err != nil {
		return nil, err
	}

	messages := []datatypes.Message{
		{Role: datatypes.RoleSystem, Content: definition},
		{Role: datatypes.RoleSystem, Content: format},
		{Role: datatypes.RoleUser, Content: preamble},
	}
	messages = append(messages, history...)
	messages = append(messages,
		datatypes.Message{Role: datatypes.RoleUser, Content: current},
		datatypes.Message{Role: datatypes.RoleUser, Content: cmd},
	)
	return messages, nil
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return buf.String(), nil
}
