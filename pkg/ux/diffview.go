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
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/sourcegraph/go-diff/diff"
)

const diffContext = 3

// BuildFileDiffs turns the change from before to after into one unified diff
// per changed item. Items are rendered as indented JSON files named
// "<Category>/<id>.json"; created items diff against /dev/null.
func BuildFileDiffs(before, after techdoc.Snapshot) ([]*diff.FileDiff, error) {
	set := techdoc.DiffSnapshots(before, after)
	var out []*diff.FileDiff
	for _, c := range set.Categories() {
		for _, id := range set.IDs(c) {
			m := set[c][id]
			name := fmt.Sprintf("%s/%s.json", c, id)

			var oldLines, newLines []string
			if old, ok := before.Get(c, id); ok {
				lines, err := payloadLines(old.Payload)
				if err != nil {
					return nil, fmt.Errorf("render %s: %w", name, err)
				}
				oldLines = lines
			}
			if m.Type != techdoc.MutationDelete {
				lines, err := payloadLines(m.Data.Payload)
				if err != nil {
					return nil, fmt.Errorf("render %s: %w", name, err)
				}
				newLines = lines
			}

			fd := &diff.FileDiff{
				OrigName: "a/" + name,
				NewName:  "b/" + name,
				Extended: []string{fmt.Sprintf("diff --git a/%s b/%s", name, name)},
			}
			switch m.Type {
			case techdoc.MutationCreate:
				fd.OrigName = "/dev/null"
				fd.Extended = append(fd.Extended, "new file mode 100644")
			case techdoc.MutationDelete:
				fd.NewName = "/dev/null"
				fd.Extended = append(fd.Extended, "deleted file mode 100644")
			}
			fd.Hunks = []*diff.Hunk{buildHunk(oldLines, newLines)}
			out = append(out, fd)
		}
	}
	return out, nil
}

// RenderDiff prints the unified diff between two snapshots. With colour
// enabled, added and removed lines are styled.
func RenderDiff(before, after techdoc.Snapshot, colour bool) (string, error) {
	fds, err := BuildFileDiffs(before, after)
	if err != nil {
		return "", err
	}
	if len(fds) == 0 {
		return "", nil
	}
	raw, err := diff.PrintMultiFileDiff(fds)
	if err != nil {
		return "", fmt.Errorf("print diff: %w", err)
	}
	if !colour {
		return string(raw), nil
	}
	return colourDiff(raw), nil
}

func colourDiff(raw []byte) string {
	var b strings.Builder
	for _, line := range strings.SplitAfter(string(raw), "\n") {
		trimmed := strings.TrimRight(line, "\n")
		switch {
		case trimmed == "":
		case strings.HasPrefix(trimmed, "+++"), strings.HasPrefix(trimmed, "---"), strings.HasPrefix(trimmed, "diff "):
			trimmed = Styles.Bold.Render(trimmed)
		case strings.HasPrefix(trimmed, "@@"):
			trimmed = Styles.Subtitle.Render(trimmed)
		case strings.HasPrefix(trimmed, "+"):
			trimmed = Styles.Create.Render(trimmed)
		case strings.HasPrefix(trimmed, "-"):
			trimmed = Styles.Delete.Render(trimmed)
		}
		b.WriteString(trimmed)
		if strings.HasSuffix(line, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func payloadLines(p techdoc.Payload) ([]string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(p); err != nil {
		return nil, err
	}
	return strings.Split(strings.TrimRight(buf.String(), "\n"), "\n"), nil
}

// buildHunk produces a single hunk covering the changed region between the
// common prefix and suffix of the two line slices, with context around it.
func buildHunk(oldLines, newLines []string) *diff.Hunk {
	prefix := 0
	for prefix < len(oldLines) && prefix < len(newLines) && oldLines[prefix] == newLines[prefix] {
		prefix++
	}
	suffix := 0
	for suffix < len(oldLines)-prefix && suffix < len(newLines)-prefix &&
		oldLines[len(oldLines)-1-suffix] == newLines[len(newLines)-1-suffix] {
		suffix++
	}

	start := max(0, prefix-diffContext)
	tail := min(suffix, diffContext)

	var body bytes.Buffer
	write := func(sign byte, lines []string) {
		for _, l := range lines {
			body.WriteByte(sign)
			body.WriteString(l)
			body.WriteByte('\n')
		}
	}
	write(' ', oldLines[start:prefix])
	write('-', oldLines[prefix:len(oldLines)-suffix])
	write('+', newLines[prefix:len(newLines)-suffix])
	write(' ', oldLines[len(oldLines)-suffix:len(oldLines)-suffix+tail])

	lead := prefix - start
	h := &diff.Hunk{
		OrigLines: int32(lead + (len(oldLines) - suffix - prefix) + tail),
		NewLines:  int32(lead + (len(newLines) - suffix - prefix) + tail),
		Body:      body.Bytes(),
	}
	if h.OrigLines > 0 {
		h.OrigStartLine = int32(start + 1)
	}
	if h.NewLines > 0 {
		h.NewStartLine = int32(start + 1)
	}
	return h
}
