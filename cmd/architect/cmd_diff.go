// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/AleutianAI/AleutianArchitect/pkg/techdoc"
	"github.com/AleutianAI/AleutianArchitect/pkg/ux"
	"github.com/spf13/cobra"
)

func runDiff(cmd *cobra.Command, args []string) error {
	before, err := readSnapshot(args[0])
	if err != nil {
		ux.Error(err.Error())
		return err
	}
	after, err := readSnapshot(args[1])
	if err != nil {
		ux.Error(err.Error())
		return err
	}

	colour := !noColour && ux.GetPersonality().Level != ux.PersonalityMachine
	out, err := ux.RenderDiff(before, after, colour)
	if err != nil {
		return err
	}
	if out == "" {
		ux.Info("The documents are identical")
		return nil
	}
	fmt.Fprint(cmd.OutOrStdout(), out)
	ux.Muted(ux.MutationCounts(techdoc.DiffSnapshots(before, after)))
	return nil
}

// readSnapshot reads a document snapshot in its {category: {id: item}} JSON
// form.
func readSnapshot(path string) (techdoc.Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return techdoc.Snapshot{}, fmt.Errorf("read %s: %w", path, err)
	}
	var s techdoc.Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return techdoc.Snapshot{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return s, nil
}
