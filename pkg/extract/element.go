// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"html"
	"regexp"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
)

const (
	cdataOpen  = "<![CDATA["
	cdataClose = "]]>"
)

var (
	openTagRE = regexp.MustCompile(`<([A-Za-z][A-Za-z0-9_]*)((?:\s+[A-Za-z_:][-A-Za-z0-9_:.]*\s*=\s*(?:"[^"]*"|'[^']*'))*)\s*(/?)>`)
	attrRE    = regexp.MustCompile(`([A-Za-z_:][-A-Za-z0-9_:.]*)\s*=\s*(?:"([^"]*)"|'([^']*)')`)
)

// element is one direct child element of a span body.
type element struct {
	Name  string
	Attrs map[string]string
	// Body is the decoded text content: CDATA sections verbatim, everything
	// else with XML entities decoded.
	Body string
	// Closed is false when the closing tag was never found.
	Closed bool
}

// scanElements returns the top-level elements of body in document order.
// Text between elements is ignored. An element without a closing tag ends
// the scan and is returned with Closed set to false.
func scanElements(body string) []element {
	var out []element
	pos := 0
	for pos < len(body) {
		loc := openTagRE.FindStringSubmatchIndex(body[pos:])
		if loc == nil {
			break
		}
		name := body[pos+loc[2] : pos+loc[3]]
		attrs := parseAttrs(body[pos+loc[4] : pos+loc[5]])
		selfClosing := loc[7] > loc[6]
		contentStart := pos + loc[1]

		if selfClosing {
			out = append(out, element{Name: name, Attrs: attrs, Closed: true})
			pos = contentStart
			continue
		}

		end := findClose(body, contentStart, name)
		if end < 0 {
			out = append(out, element{Name: name, Attrs: attrs, Body: decodeText(body[contentStart:])})
			break
		}
		out = append(out, element{Name: name, Attrs: attrs, Body: decodeText(body[contentStart:end]), Closed: true})
		pos = end + len("</"+name+">")
	}
	return out
}

// findClose returns the index of the closing tag for name at or after from,
// skipping CDATA sections. It returns -1 when none exists.
func findClose(s string, from int, name string) int {
	closeTag := "</" + name + ">"
	i := from
	for i < len(s) {
		nextClose := strings.Index(s[i:], closeTag)
		if nextClose < 0 {
			return -1
		}
		nextCDATA := strings.Index(s[i:], cdataOpen)
		if nextCDATA < 0 || nextCDATA > nextClose {
			return i + nextClose
		}
		cdataEnd := strings.Index(s[i+nextCDATA:], cdataClose)
		if cdataEnd < 0 {
			return -1
		}
		i += nextCDATA + cdataEnd + len(cdataClose)
	}
	return -1
}

func parseAttrs(s string) map[string]string {
	attrs := map[string]string{}
	for _, m := range attrRE.FindAllStringSubmatch(s, -1) {
		v := m[2]
		if v == "" {
			v = m[3]
		}
		attrs[m[1]] = html.UnescapeString(v)
	}
	return attrs
}

// decodeText unwraps CDATA sections and decodes entities in the rest.
func decodeText(s string) string {
	var b strings.Builder
	for {
		start := strings.Index(s, cdataOpen)
		if start < 0 {
			b.WriteString(html.UnescapeString(s))
			break
		}
		b.WriteString(html.UnescapeString(s[:start]))
		rest := s[start+len(cdataOpen):]
		end := strings.Index(rest, cdataClose)
		if end < 0 {
			b.WriteString(rest)
			break
		}
		b.WriteString(rest[:end])
		s = rest[end+len(cdataClose):]
	}
	return strings.TrimSpace(b.String())
}

// spanPattern matches every span of kind k lazily: each match ends at the
// first closer after its opener, and matches never overlap.
func spanPattern(k marker.Kind) *regexp.Regexp {
	return regexp.MustCompile(`(?s)` + regexp.QuoteMeta(k.Open()) + `(.*?)` + regexp.QuoteMeta(k.Close()))
}

func spanBodies(re *regexp.Regexp, text string) []string {
	var out []string
	for _, m := range re.FindAllStringSubmatch(text, -1) {
		out = append(out, m[1])
	}
	return out
}
