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
	"github.com/AleutianAI/AleutianArchitect/pkg/marker"
	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
)

var patchSpanRE = spanPattern(marker.KindPatch)

// ExtractMutations collects the mutations of every Patch span in answer.
//
// Each child element named after a category yields one mutation keyed by its
// id attribute, typed by its mutationType attribute, with its body parsed by
// ParseLiteral. A later element for the same (category, id) replaces an
// earlier one, across spans too.
//
// Problems are reported per element and never stop extraction:
//   - unknown element names, a missing id, or an invalid mutationType skip
//     the element;
//   - an unparseable body keeps the mutation with an empty payload;
//   - an element cut off by the end of the span is parsed as far as it goes.
func ExtractMutations(answer string) (techdoc.MutationSet, []error) {
	set := techdoc.MutationSet{}
	var errs []error

	for _, body := range spanBodies(patchSpanRE, answer) {
		for _, el := range scanElements(body) {
			category, err := techdoc.ParseCategory(el.Name)
			if err != nil {
				errs = append(errs, &ElementError{Element: el.Name, ID: el.Attrs["id"], Err: ErrUnknownElement})
				continue
			}
			id := el.Attrs["id"]
			if id == "" {
				errs = append(errs, &ElementError{Element: el.Name, Err: ErrMissingID})
				continue
			}
			mutationType, err := techdoc.ParseMutationType(el.Attrs["mutationType"])
			if err != nil {
				errs = append(errs, &ElementError{Element: el.Name, ID: id, Err: err})
				continue
			}
			if !el.Closed {
				errs = append(errs, &ElementError{Element: el.Name, ID: id, Err: ErrUnterminated})
			}

			payload, err := ParseLiteral(el.Body)
			if err != nil {
				errs = append(errs, &ElementError{Element: el.Name, ID: id, Err: err})
				payload = techdoc.Payload{}
			}
			set.Put(category, id, techdoc.MutationItem{
				Type: mutationType,
				Data: techdoc.Item{Payload: payload},
			})
		}
	}
	return set, errs
}
