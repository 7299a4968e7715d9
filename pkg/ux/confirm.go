// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package ux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/charmbracelet/huh"
)

// ErrConfirmAborted is returned when the user leaves the confirm form.
var ErrConfirmAborted = errors.New("confirm form aborted")

// ConfirmAnswers holds the user's answers to a turn's questions, in question
// order.
type ConfirmAnswers struct {
	items  []techdoc.ConfirmItem
	values []string
}

// NewConfirmAnswers returns empty answers for items.
func NewConfirmAnswers(items []techdoc.ConfirmItem) *ConfirmAnswers {
	return &ConfirmAnswers{
		items:  items,
		values: make([]string, len(items)),
	}
}

// Set records the answer to the question with the given id.
func (a *ConfirmAnswers) Set(id, value string) error {
	for i, it := range a.items {
		if it.ID == id {
			a.values[i] = value
			return nil
		}
	}
	return fmt.Errorf("no question with id %q", id)
}

// Get returns the answer to the question with the given id.
func (a *ConfirmAnswers) Get(id string) string {
	for i, it := range a.items {
		if it.ID == id {
			return a.values[i]
		}
	}
	return ""
}

// FollowUp renders the answered questions as the next command for the
// architect. Unanswered questions are left out; with no answers the result
// is empty.
func (a *ConfirmAnswers) FollowUp() string {
	var b strings.Builder
	for i, it := range a.items {
		v := strings.TrimSpace(a.values[i])
		if v == "" {
			continue
		}
		if b.Len() == 0 {
			b.WriteString("Answers to your questions:\n")
		}
		fmt.Fprintf(&b, "- %s: %s\n", it.Title, optionTitle(it, v))
	}
	return strings.TrimRight(b.String(), "\n")
}

func optionTitle(it techdoc.ConfirmItem, value string) string {
	for _, o := range it.Options {
		if o.Value == value && o.Title != "" && o.Title != value {
			return fmt.Sprintf("%s (%s)", o.Title, value)
		}
	}
	return value
}

// BuildConfirmForm builds a huh form with one field per question. Select
// questions with options become select fields; everything else is a free
// text input. Answers are written into the returned ConfirmAnswers when the
// form runs.
func BuildConfirmForm(items []techdoc.ConfirmItem) (*huh.Form, *ConfirmAnswers) {
	answers := NewConfirmAnswers(items)
	fields := make([]huh.Field, 0, len(items))
	for i, it := range items {
		if it.Type == techdoc.ConfirmSelect && len(it.Options) > 0 {
			opts := make([]huh.Option[string], 0, len(it.Options))
			for _, o := range it.Options {
				title := o.Title
				if title == "" {
					title = o.Value
				}
				opts = append(opts, huh.NewOption(title, o.Value))
			}
			fields = append(fields, huh.NewSelect[string]().
				Key(it.ID).
				Title(it.Title).
				Options(opts...).
				Value(&answers.values[i]))
			continue
		}
		fields = append(fields, huh.NewInput().
			Key(it.ID).
			Title(it.Title).
			Value(&answers.values[i]))
	}
	form := huh.NewForm(huh.NewGroup(fields...)).WithTheme(huh.ThemeCharm())
	return form, answers
}

// RunConfirmForm asks items interactively on in/out and returns the answers.
func RunConfirmForm(ctx context.Context, items []techdoc.ConfirmItem, in io.Reader, out io.Writer) (*ConfirmAnswers, error) {
	if len(items) == 0 {
		return NewConfirmAnswers(nil), nil
	}
	form, answers := BuildConfirmForm(items)
	if in != nil {
		form = form.WithInput(in)
	}
	if out != nil {
		form = form.WithOutput(out)
	}
	if err := form.RunWithContext(ctx); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return answers, ErrConfirmAborted
		}
		return answers, fmt.Errorf("run confirm form: %w", err)
	}
	return answers, nil
}
