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
	"fmt"

	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
)

var confirmSpanRE = spanPattern(marker.KindConfirmForm)

// ExtractConfirmItems collects the questions of every ConfirmForm span in
// answer.
//
// Items are returned in the order their id first appears; when an id repeats,
// the last occurrence supplies the content. Select items take their options
// from the body's "options" list, whose entries are either {value, title}
// objects or plain strings. Input items never have options. Elements with an
// empty id or body, or a body that does not parse, are skipped and reported.
func ExtractConfirmItems(answer string) ([]techdoc.ConfirmItem, []error) {
	byID := map[string]techdoc.ConfirmItem{}
	var order []string
	var errs []error

	for _, body := range spanBodies(confirmSpanRE, answer) {
		for _, el := range scanElements(body) {
			var kind techdoc.ConfirmType
			switch el.Name {
			case marker.SelectElement:
				kind = techdoc.ConfirmSelect
			case marker.InputElement:
				kind = techdoc.ConfirmInput
			default:
				errs = append(errs, &ElementError{Element: el.Name, ID: el.Attrs["id"], Err: ErrUnknownElement})
				continue
			}

			id := el.Attrs["id"]
			if id == "" {
				errs = append(errs, &ElementError{Element: el.Name, Err: ErrMissingID})
				continue
			}
			if el.Body == "" {
				errs = append(errs, &ElementError{Element: el.Name, ID: id, Err: fmt.Errorf("empty body")})
				continue
			}
			payload, err := ParseLiteral(el.Body)
			if err != nil {
				errs = append(errs, &ElementError{Element: el.Name, ID: id, Err: err})
				continue
			}

			item := techdoc.ConfirmItem{
				ID:      id,
				Title:   stringField(payload, "title"),
				Type:    kind,
				Options: []techdoc.ConfirmOption{},
			}
			if kind == techdoc.ConfirmSelect {
				opts, optErrs := parseOptions(payload["options"])
				item.Options = opts
				for _, e := range optErrs {
					errs = append(errs, &ElementError{Element: el.Name, ID: id, Err: e})
				}
			}

			if _, seen := byID[id]; !seen {
				order = append(order, id)
			}
			byID[id] = item
		}
	}

	items := make([]techdoc.ConfirmItem, 0, len(order))
	for _, id := range order {
		items = append(items, byID[id])
	}
	return items, errs
}

func parseOptions(raw any) ([]techdoc.ConfirmOption, []error) {
	opts := []techdoc.ConfirmOption{}
	list, ok := raw.([]any)
	if !ok {
		if raw != nil {
			return opts, []error{fmt.Errorf("options must be a list, got %T", raw)}
		}
		return opts, nil
	}

	var errs []error
	for i, entry := range list {
		switch v := entry.(type) {
		case string:
			opts = append(opts, techdoc.ConfirmOption{Value: v, Title: v})
		case map[string]any:
			opt := techdoc.ConfirmOption{Value: stringField(v, "value"), Title: stringField(v, "title")}
			if opt.Value == "" {
				opt.Value = opt.Title
			}
			if opt.Title == "" {
				opt.Title = opt.Value
			}
			if opt.Value == "" {
				errs = append(errs, fmt.Errorf("option %d has neither value nor title", i))
				continue
			}
			opts = append(opts, opt)
		default:
			errs = append(errs, fmt.Errorf("option %d has unsupported type %T", i, entry))
		}
	}
	return opts, errs
}

// stringField returns m[key] as text. Numbers and booleans are formatted;
// anything else reads as "".
func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64, bool:
		return fmt.Sprint(v)
	default:
		return ""
	}
}
