// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package tagstream classifies a streamed model answer into plain text and
// marker spans while it arrives, and drives a SpanRenderer as it goes.
//
// Chunks may split markers anywhere. The parser withholds a short tail of
// idle text so a split opener is still recognised, searches for the closer
// across everything collected for the open span, and forces the open span
// closed if the stream ends early.
package tagstream

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
)

// DefaultScrollEvery is how many characters an Aside must grow between two
// scroll hints.
const DefaultScrollEvery = 100

// Option configures a Parser.
type Option func(*Parser)

// WithLogger sets the logger used for span lifecycle events.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parser) {
		if l != nil {
			p.logger = l
		}
	}
}

// WithScrollHint registers fn to be called whenever the surface should move
// to the end of the document: after every closed span and while an Aside
// grows.
func WithScrollHint(fn func()) Option {
	return func(p *Parser) { p.scrollHint = fn }
}

// WithScrollEvery overrides DefaultScrollEvery.
func WithScrollEvery(n int) Option {
	return func(p *Parser) {
		if n > 0 {
			p.scrollEvery = n
		}
	}
}

// Parser is an incremental marker parser. It is not safe for concurrent use.
type Parser struct {
	renderer    SpanRenderer
	logger      *slog.Logger
	scrollHint  func()
	scrollEvery int

	mode   Mode
	buffer string

	// afterClose is set once a span closes and cleared at the first
	// non-newline character; newlines seen meanwhile collapse to one.
	afterClose   bool
	breakEmitted bool
	scrolledAt   int

	done bool
}

// New returns a parser that drives renderer.
func New(renderer SpanRenderer, opts ...Option) *Parser {
	p := &Parser{
		renderer:    renderer,
		logger:      slog.Default(),
		scrollEvery: DefaultScrollEvery,
		mode:        Idle{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Mode returns the current state.
func (p *Parser) Mode() Mode {
	return p.mode
}

// Closed reports whether Finish or Cancel has been called.
func (p *Parser) Closed() bool {
	return p.done
}

// Feed consumes the next chunk of the stream. Chunks after Finish or Cancel
// are ignored.
func (p *Parser) Feed(chunk string) {
	if p.done || chunk == "" {
		return
	}
	p.buffer += chunk
	for p.step() {
	}
}

// Finish ends the stream. An open span is force-completed with everything
// collected for it and the warning flag set; withheld idle text is flushed.
func (p *Parser) Finish() {
	if p.done {
		return
	}
	switch m := p.mode.(type) {
	case *InSpan:
		content := m.Accumulated + p.buffer
		p.logger.Warn("stream ended inside span",
			slog.String("kind", m.Kind.String()),
			slog.Int("content_len", len(content)))
		p.renderer.ForceCompleteSpan(m.Handle, content, true)
		p.hint()
	default:
		p.emitPlain(p.buffer)
	}
	p.reset()
}

// Cancel tears the parser down without closing any span or flushing text.
// Use it when the transport failed rather than ended.
func (p *Parser) Cancel() {
	if p.done {
		return
	}
	if m, ok := p.mode.(*InSpan); ok {
		p.logger.Debug("stream cancelled inside span", slog.String("kind", m.Kind.String()))
	}
	p.reset()
}

func (p *Parser) reset() {
	p.mode = Idle{}
	p.buffer = ""
	p.afterClose = false
	p.breakEmitted = false
	p.scrolledAt = 0
	p.done = true
}

// step advances the state machine once. It returns true when it changed mode
// and more buffered input may be processed.
func (p *Parser) step() bool {
	switch m := p.mode.(type) {
	case *InSpan:
		return p.stepInSpan(m)
	default:
		return p.stepIdle()
	}
}

func (p *Parser) stepIdle() bool {
	if p.afterClose {
		n := leadingNewlines(p.buffer)
		if n > 0 && !p.breakEmitted {
			p.emitPlain("\n")
			p.breakEmitted = true
		}
		p.buffer = p.buffer[n:]
		if p.buffer == "" {
			return false
		}
		p.afterClose = false
		p.breakEmitted = false
	}

	if kind, idx, ok := findOpener(p.buffer); ok {
		p.emitPlain(collapseTrailingNewlines(p.buffer[:idx]))
		handle := p.renderer.BeginSpan(kind)
		p.logger.Debug("span opened", slog.String("kind", kind.String()))
		p.buffer = p.buffer[idx+len(kind.Open()):]
		p.mode = &InSpan{Kind: kind, Handle: handle}
		p.scrolledAt = 0
		return true
	}

	cut := safeCut(p.buffer, len(p.buffer)-marker.Holdback)
	if cut > 0 {
		p.emitPlain(p.buffer[:cut])
		p.buffer = p.buffer[cut:]
	}
	return false
}

func (p *Parser) stepInSpan(m *InSpan) bool {
	if p.buffer == "" {
		return false
	}
	closer := m.Kind.Close()
	combined := m.Accumulated + p.buffer

	// Accumulated was already searched, except for a closer that started in
	// its tail.
	from := len(m.Accumulated) - len(closer) + 1
	if from < 0 {
		from = 0
	}
	if i := strings.Index(combined[from:], closer); i >= 0 {
		idx := from + i
		content := combined[:idx]
		p.renderer.CompleteSpan(m.Handle, content)
		p.logger.Debug("span closed",
			slog.String("kind", m.Kind.String()),
			slog.Int("content_len", len(content)))
		p.hint()
		p.mode = Idle{}
		p.buffer = combined[idx+len(closer):]
		p.afterClose = true
		p.breakEmitted = false
		return true
	}

	m.Accumulated = combined
	p.buffer = ""
	if m.Kind.LiveUpdates() {
		p.renderer.UpdateSpanContent(m.Handle, m.Accumulated)
		if len(m.Accumulated)-p.scrolledAt >= p.scrollEvery {
			p.scrolledAt = len(m.Accumulated)
			p.hint()
		}
	}
	return false
}

func (p *Parser) emitPlain(text string) {
	if text != "" {
		p.renderer.AppendPlainText(text)
	}
}

func (p *Parser) hint() {
	if p.scrollHint != nil {
		p.scrollHint()
	}
}

// findOpener returns the opener that starts earliest in s. Detection
// priority only breaks ties, which cannot occur between distinct openers.
func findOpener(s string) (marker.Kind, int, bool) {
	best, bestIdx := marker.Kind(0), -1
	for _, k := range marker.Kinds() {
		// Every span closes before the next opener is considered, so the
		// root-only kinds are always at root here.
		if i := strings.Index(s, k.Open()); i >= 0 && (bestIdx < 0 || i < bestIdx) {
			best, bestIdx = k, i
		}
	}
	return best, bestIdx, bestIdx >= 0
}

// safeCut moves cut back so that the flushed prefix neither splits a UTF-8
// sequence nor ends inside a newline run.
func safeCut(s string, cut int) int {
	if cut <= 0 {
		return 0
	}
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	for cut > 0 && s[cut-1] == '\n' {
		cut--
	}
	return cut
}

func leadingNewlines(s string) int {
	n := 0
	for n < len(s) && s[n] == '\n' {
		n++
	}
	return n
}

// collapseTrailingNewlines reduces a trailing run of newlines to one.
func collapseTrailingNewlines(s string) string {
	trimmed := strings.TrimRight(s, "\n")
	if len(trimmed) < len(s) {
		return trimmed + "\n"
	}
	return s
}
