// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package tagstream

import (
	"strings"
	"sync"

	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
)

// Handle identifies a span opened on a SpanRenderer. Its meaning belongs to
// the renderer; the parser only hands it back.
type Handle any

// SpanRenderer is the surface a Parser drives.
//
// Calls arrive in stream order from the goroutine calling Feed, Finish or
// Cancel. Plain text is delivered in pieces whose boundaries depend on
// chunking; renderers must only rely on the concatenation.
type SpanRenderer interface {
	// BeginSpan opens a span of the given kind and returns its handle.
	BeginSpan(kind marker.Kind) Handle

	// UpdateSpanContent replaces the content shown for an open span. Only
	// kinds with live updates receive it.
	UpdateSpanContent(h Handle, content string)

	// CompleteSpan closes a span with its final content.
	CompleteSpan(h Handle, content string)

	// ForceCompleteSpan closes a span whose closer never arrived. warning is
	// set when the surface should flag the anomaly.
	ForceCompleteSpan(h Handle, content string, warning bool)

	// AppendPlainText appends text outside any span.
	AppendPlainText(text string)

	// AppendHardBreak appends a line break that does not start a new block.
	AppendHardBreak()
}

// CallKind names a SpanRenderer method in a recorded trace.
type CallKind string

const (
	CallBegin     CallKind = "begin"
	CallUpdate    CallKind = "update"
	CallComplete  CallKind = "complete"
	CallForce     CallKind = "force"
	CallPlain     CallKind = "plain"
	CallHardBreak CallKind = "break"
)

// Call is one recorded SpanRenderer invocation.
type Call struct {
	Kind    CallKind
	Span    marker.Kind
	Handle  int
	Content string
	Warning bool
}

// Recorder is a SpanRenderer that records every call. Handles are the 1-based
// sequence numbers of BeginSpan calls.
type Recorder struct {
	mu    sync.Mutex
	calls []Call
	kinds map[int]marker.Kind
	next  int
}

var _ SpanRenderer = (*Recorder)(nil)

// NewRecorder returns an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{kinds: map[int]marker.Kind{}}
}

func (r *Recorder) BeginSpan(kind marker.Kind) Handle {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.next++
	r.kinds[r.next] = kind
	r.calls = append(r.calls, Call{Kind: CallBegin, Span: kind, Handle: r.next})
	return r.next
}

func (r *Recorder) UpdateSpanContent(h Handle, content string) {
	r.record(CallUpdate, h, content, false)
}

func (r *Recorder) CompleteSpan(h Handle, content string) {
	r.record(CallComplete, h, content, false)
}

func (r *Recorder) ForceCompleteSpan(h Handle, content string, warning bool) {
	r.record(CallForce, h, content, warning)
}

func (r *Recorder) AppendPlainText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Kind: CallPlain, Content: text})
}

func (r *Recorder) AppendHardBreak() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, Call{Kind: CallHardBreak})
}

func (r *Recorder) record(kind CallKind, h Handle, content string, warning bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := h.(int)
	r.calls = append(r.calls, Call{Kind: kind, Span: r.kinds[id], Handle: id, Content: content, Warning: warning})
}

// Calls returns a copy of the recorded calls.
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Call, len(r.calls))
	copy(out, r.calls)
	return out
}

// Normalized returns the recorded calls with adjacent plain-text calls merged
// and live updates dropped. Two streams that differ only in chunking produce
// the same normalized trace.
func (r *Recorder) Normalized() []Call {
	var out []Call
	for _, c := range r.Calls() {
		switch {
		case c.Kind == CallUpdate:
			continue
		case c.Kind == CallPlain && len(out) > 0 && out[len(out)-1].Kind == CallPlain:
			out[len(out)-1].Content += c.Content
		default:
			out = append(out, c)
		}
	}
	return out
}

// PlainText returns the concatenation of all plain text.
func (r *Recorder) PlainText() string {
	var b strings.Builder
	for _, c := range r.Calls() {
		if c.Kind == CallPlain {
			b.WriteString(c.Content)
		}
	}
	return b.String()
}

// Completed returns the final content of every closed span in order,
// forced or not.
func (r *Recorder) Completed() []Call {
	var out []Call
	for _, c := range r.Calls() {
		if c.Kind == CallComplete || c.Kind == CallForce {
			out = append(out, c)
		}
	}
	return out
}

// Forced reports whether any span was force-completed.
func (r *Recorder) Forced() bool {
	for _, c := range r.Calls() {
		if c.Kind == CallForce {
			return true
		}
	}
	return false
}
