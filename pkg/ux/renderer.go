// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// This file contains the terminal span renderer that the stream tag parser
// drives while a design turn streams in.
//
// Single Responsibility:
//
//	Renderers ONLY render. They do not parse markers, read the network, or
//	touch the document store. Span content arrives already classified.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianArchitect/pkg/extract"
	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
	"github.com/AleutianAI/AleutianArchitect/pkg/tagstream"
	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
)

// RenderStats counts what a renderer displayed during one turn.
type RenderStats struct {
	Spans       int
	Forced      int
	Mutations   int
	Questions   int
	ParseIssues int
}

// spanState is what the renderer remembers about one open span.
type spanState struct {
	kind    marker.Kind
	printed int
	done    bool
}

// terminalSpanRenderer renders a design turn to a terminal.
//
// # Description
//
// Plain text is written as it arrives. Asides stream in muted italics when
// the personality shows them and collapse to a one-line marker otherwise.
// Patch spans render as a boxed mutation summary once complete. ConfirmForm
// spans render as a numbered question list. Forced closes are flagged with a
// warning icon.
//
// # Thread Safety
//
// Protected by a mutex; calls are expected from a single goroutine.
type terminalSpanRenderer struct {
	mu          sync.Mutex
	w           io.Writer
	personality Personality
	spinner     *Spinner

	spans   map[int]*spanState
	next    int
	atStart bool
	stats   RenderStats
}

// TerminalSpanRenderer is a tagstream.SpanRenderer that also reports what it
// displayed.
type TerminalSpanRenderer interface {
	tagstream.SpanRenderer

	// Wait shows a spinner until the first span or text arrives.
	Wait(message string)

	// Stop clears the spinner if nothing has been rendered yet.
	Stop()

	// Stats returns the counts for everything rendered so far.
	Stats() RenderStats
}

// NewTerminalSpanRenderer creates a renderer writing to w. A nil w writes to
// os.Stdout.
func NewTerminalSpanRenderer(w io.Writer, p Personality) TerminalSpanRenderer {
	if w == nil {
		w = os.Stdout
	}
	return &terminalSpanRenderer{
		w:           w,
		personality: p,
		spans:       map[int]*spanState{},
		atStart:     true,
	}
}

func (r *terminalSpanRenderer) machine() bool {
	return r.personality.Level == PersonalityMachine
}

func (r *terminalSpanRenderer) Wait(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.machine() || r.spinner != nil {
		return
	}
	r.spinner = NewSpinner(r.w, message)
	r.spinner.Start()
}

func (r *terminalSpanRenderer) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopSpinner()
}

func (r *terminalSpanRenderer) stopSpinner() {
	if r.spinner != nil {
		r.spinner.Stop()
		r.spinner = nil
	}
}

func (r *terminalSpanRenderer) Stats() RenderStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stats
}

func (r *terminalSpanRenderer) BeginSpan(kind marker.Kind) tagstream.Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopSpinner()

	r.next++
	r.spans[r.next] = &spanState{kind: kind}
	r.stats.Spans++

	if kind == marker.KindAside && !r.machine() {
		r.lineBreak()
		if r.personality.ShowAsides {
			fmt.Fprint(r.w, IconAside.Render()+" ")
		} else {
			fmt.Fprintln(r.w, IconAside.Render()+" "+Styles.Muted.Render("thinking…"))
			r.atStart = true
		}
	}
	return r.next
}

func (r *terminalSpanRenderer) UpdateSpanContent(h tagstream.Handle, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.span(h)
	if s == nil || s.done || s.kind != marker.KindAside {
		return
	}
	r.writeAside(s, content)
}

func (r *terminalSpanRenderer) CompleteSpan(h tagstream.Handle, content string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete(h, content, false)
}

func (r *terminalSpanRenderer) ForceCompleteSpan(h tagstream.Handle, content string, warning bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete(h, content, warning)
}

func (r *terminalSpanRenderer) AppendPlainText(text string) {
	if text == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopSpinner()
	fmt.Fprint(r.w, text)
	r.atStart = strings.HasSuffix(text, "\n")
}

func (r *terminalSpanRenderer) AppendHardBreak() {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintln(r.w)
	r.atStart = true
}

func (r *terminalSpanRenderer) span(h tagstream.Handle) *spanState {
	id, ok := h.(int)
	if !ok {
		return nil
	}
	return r.spans[id]
}

func (r *terminalSpanRenderer) lineBreak() {
	if !r.atStart {
		fmt.Fprintln(r.w)
		r.atStart = true
	}
}

// writeAside prints the part of content not yet shown. Aside content only
// grows while the span is open.
func (r *terminalSpanRenderer) writeAside(s *spanState, content string) {
	if !r.personality.ShowAsides || r.machine() {
		return
	}
	if s.printed > len(content) {
		s.printed = 0
	}
	delta := content[s.printed:]
	s.printed = len(content)
	if delta == "" {
		return
	}
	fmt.Fprint(r.w, Styles.Aside.Render(strings.ReplaceAll(delta, "\n", "\n  ")))
	r.atStart = false
}

func (r *terminalSpanRenderer) complete(h tagstream.Handle, content string, warning bool) {
	s := r.span(h)
	if s == nil || s.done {
		return
	}
	s.done = true
	if warning {
		r.stats.Forced++
	}

	switch s.kind {
	case marker.KindAside:
		r.writeAside(s, content)
		if r.personality.ShowAsides && !r.machine() {
			fmt.Fprintln(r.w)
			r.atStart = true
		}
	case marker.KindPatch:
		r.renderPatch(content, warning)
	case marker.KindConfirmForm:
		r.renderQuestions(content)
	}

	if warning {
		r.warn(fmt.Sprintf("%s span was not closed; showing what arrived", s.kind))
	}
}

func (r *terminalSpanRenderer) warn(text string) {
	r.lineBreak()
	if r.machine() {
		fmt.Fprintf(r.w, "WARN: %s\n", text)
		return
	}
	fmt.Fprintf(r.w, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
}

func (r *terminalSpanRenderer) renderPatch(content string, warning bool) {
	set, errs := extract.ExtractMutations(wrapSpan(marker.KindPatch, content))
	r.stats.Mutations += set.Len()
	r.stats.ParseIssues += len(errs)

	r.lineBreak()
	lines := formatChangeLines(techdoc.Summarize(set), r.machine())
	if r.machine() {
		if lines != "" {
			fmt.Fprintln(r.w, lines)
		}
	} else {
		title := "Patch · " + MutationCounts(set)
		style := Styles.PatchBox
		if warning {
			style = Styles.WarningBox
		}
		body := lines
		if body == "" {
			body = Styles.Muted.Render("no changes")
		}
		fmt.Fprintln(r.w, style.Render(Styles.Title.Render(title)+"\n"+body))
	}
	for _, err := range errs {
		r.warn(err.Error())
	}
}

func (r *terminalSpanRenderer) renderQuestions(content string) {
	items, errs := extract.ExtractConfirmItems(wrapSpan(marker.KindConfirmForm, content))
	r.stats.Questions += len(items)
	r.stats.ParseIssues += len(errs)

	r.lineBreak()
	fmt.Fprint(r.w, formatQuestions(items, r.machine()))
	for _, err := range errs {
		r.warn(err.Error())
	}
}

// FormatQuestions renders confirm items as a numbered list.
func FormatQuestions(items []techdoc.ConfirmItem) string {
	return formatQuestions(items, GetPersonality().Level == PersonalityMachine)
}

func formatQuestions(items []techdoc.ConfirmItem, machine bool) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	if !machine {
		b.WriteString(Styles.Subtitle.Render("Questions") + "\n")
	}
	for i, it := range items {
		if machine {
			fmt.Fprintf(&b, "QUESTION\t%s\t%s\t%s\n", it.ID, it.Type, it.Title)
			continue
		}
		fmt.Fprintf(&b, "%2d. %s", i+1, Styles.Bold.Render(it.Title))
		if len(it.Options) > 0 {
			titles := make([]string, len(it.Options))
			for j, o := range it.Options {
				titles[j] = o.Title
			}
			b.WriteString(Styles.Muted.Render(" [" + strings.Join(titles, " / ") + "]"))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func wrapSpan(k marker.Kind, content string) string {
	return k.Open() + content + k.Close()
}

var _ TerminalSpanRenderer = (*terminalSpanRenderer)(nil)
