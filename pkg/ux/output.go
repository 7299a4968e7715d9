// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package ux provides terminal output for the architect CLI: styled status
// lines, the live span renderer, the SSE client reader, the confirm form, and
// the mutation diff view.
package ux

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/charmbracelet/lipgloss"
)

// Aleutian color palette - deep ocean teals and arctic waters
var (
	ColorTealBright  = lipgloss.Color("#2CD7C7") // highlights, success
	ColorTealPrimary = lipgloss.Color("#20B9B4") // main brand color
	ColorTealDeep    = lipgloss.Color("#16858E") // borders, accents
	ColorSlate       = lipgloss.Color("#2C4A54") // muted text, borders

	ColorSuccess = lipgloss.Color("#2CD7C7")
	ColorWarning = lipgloss.Color("#F4D03F")
	ColorError   = lipgloss.Color("#E74C3C")
	ColorMuted   = lipgloss.Color("#5C7A84")
)

// Styles provides pre-configured lipgloss styles
var Styles = struct {
	Title     lipgloss.Style
	Subtitle  lipgloss.Style
	Bold      lipgloss.Style
	Muted     lipgloss.Style
	Aside     lipgloss.Style
	Success   lipgloss.Style
	Warning   lipgloss.Style
	Error     lipgloss.Style
	Highlight lipgloss.Style

	Box        lipgloss.Style
	PatchBox   lipgloss.Style
	WarningBox lipgloss.Style

	Create lipgloss.Style
	Update lipgloss.Style
	Delete lipgloss.Style
}{
	Title:     lipgloss.NewStyle().Bold(true).Foreground(ColorTealBright),
	Subtitle:  lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Bold:      lipgloss.NewStyle().Bold(true),
	Muted:     lipgloss.NewStyle().Foreground(ColorMuted),
	Aside:     lipgloss.NewStyle().Foreground(ColorMuted).Italic(true),
	Success:   lipgloss.NewStyle().Foreground(ColorSuccess),
	Warning:   lipgloss.NewStyle().Foreground(ColorWarning),
	Error:     lipgloss.NewStyle().Foreground(ColorError),
	Highlight: lipgloss.NewStyle().Foreground(ColorTealBright).Bold(true),

	Box: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealDeep).
		Padding(0, 1),
	PatchBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorTealPrimary).
		Padding(0, 1),
	WarningBox: lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(ColorWarning).
		Padding(0, 1),

	Create: lipgloss.NewStyle().Foreground(ColorSuccess),
	Update: lipgloss.NewStyle().Foreground(ColorTealPrimary),
	Delete: lipgloss.NewStyle().Foreground(ColorError),
}

// Icon provides themed status icons
type Icon string

const (
	IconSuccess Icon = "✓"
	IconWarning Icon = "⚠"
	IconError   Icon = "✗"
	IconPending Icon = "○"
	IconArrow   Icon = "→"
	IconBullet  Icon = "•"
	IconAside   Icon = "┆"
)

// Render returns the icon with appropriate styling
func (i Icon) Render() string {
	switch i {
	case IconSuccess:
		return Styles.Success.Render(string(i))
	case IconWarning:
		return Styles.Warning.Render(string(i))
	case IconError:
		return Styles.Error.Render(string(i))
	case IconPending, IconAside:
		return Styles.Muted.Render(string(i))
	default:
		return string(i)
	}
}

// Output and ErrOutput receive the print helpers' text. Tests swap them.
var (
	Output    io.Writer = os.Stdout
	ErrOutput io.Writer = os.Stderr
)

// Title prints a styled title
func Title(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(Output, Styles.Title.Render(text))
}

// Success prints a success message with checkmark
func Success(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(Output, "OK: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Output, "%s %s\n", IconSuccess.Render(), text)
	default:
		fmt.Fprintf(Output, "%s %s\n", IconSuccess.Render(), Styles.Success.Render(text))
	}
}

// Warning prints a warning message
func Warning(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(ErrOutput, "WARN: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Output, "%s %s\n", IconWarning.Render(), text)
	default:
		fmt.Fprintf(Output, "%s %s\n", IconWarning.Render(), Styles.Warning.Render(text))
	}
}

// Error prints an error message
func Error(text string) {
	switch GetPersonality().Level {
	case PersonalityMachine:
		fmt.Fprintf(ErrOutput, "ERROR: %s\n", text)
	case PersonalityMinimal:
		fmt.Fprintf(Output, "%s %s\n", IconError.Render(), text)
	default:
		fmt.Fprintf(Output, "%s %s\n", IconError.Render(), Styles.Error.Render(text))
	}
}

// Info prints an informational message
func Info(text string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintln(Output, text)
		return
	}
	fmt.Fprintf(Output, "%s %s\n", Styles.Muted.Render("│"), text)
}

// Muted prints muted/secondary text
func Muted(text string) {
	if GetPersonality().Level == PersonalityMachine {
		return
	}
	fmt.Fprintln(Output, Styles.Muted.Render(text))
}

// Box prints text in a rounded box
func Box(title, content string) {
	if GetPersonality().Level == PersonalityMachine {
		fmt.Fprintf(Output, "%s: %s\n", title, content)
		return
	}
	fmt.Fprintln(Output, Styles.Box.Width(72).Render(Styles.Title.Render(title)+"\n"+content))
}

// FormatChangeLines renders mutation summary lines, one per row, coloured by
// mutation type. Machine output is tab separated.
func FormatChangeLines(lines []techdoc.ChangeLine) string {
	return formatChangeLines(lines, GetPersonality().Level == PersonalityMachine)
}

func formatChangeLines(lines []techdoc.ChangeLine, machine bool) string {
	var b strings.Builder
	for i, l := range lines {
		if i > 0 {
			b.WriteByte('\n')
		}
		if machine {
			fmt.Fprintf(&b, "%s\t%s\t%s\t%d\t%s", l.Type, l.Category, l.ID, l.Version, l.Title)
			continue
		}
		b.WriteString(mutationStyle(l.Type).Render(mutationSymbol(l.Type)))
		b.WriteByte(' ')
		b.WriteString(l.String())
	}
	return b.String()
}

// MutationCounts renders "2 created, 1 updated, 0 deleted".
func MutationCounts(set techdoc.MutationSet) string {
	counts := set.CountByType()
	return fmt.Sprintf("%d created, %d updated, %d deleted",
		counts[techdoc.MutationCreate], counts[techdoc.MutationUpdate], counts[techdoc.MutationDelete])
}

func mutationSymbol(t techdoc.MutationType) string {
	switch t {
	case techdoc.MutationCreate:
		return "+"
	case techdoc.MutationDelete:
		return "-"
	default:
		return "~"
	}
}

func mutationStyle(t techdoc.MutationType) lipgloss.Style {
	switch t {
	case techdoc.MutationCreate:
		return Styles.Create
	case techdoc.MutationDelete:
		return Styles.Delete
	default:
		return Styles.Update
	}
}
