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
	"fmt"
	"maps"
	"os"
	"os/signal"
	"slices"
	"strings"

	"github.com/AleutianAI/AleutianArchitect/pkg/ux"
	"github.com/AleutianAI/AleutianArchitect/services/orchestrator/datatypes"
	"github.com/spf13/cobra"
)

func runInit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	req := datatypes.InitModulesRequest{}
	var err error
	if req.PRD, err = readOptionalFile(prdPath); err != nil {
		return err
	}
	if req.TechConstraints, err = readOptionalFile(constraintsPath); err != nil {
		return err
	}

	client := newArchitectClient(serverURL, nil)
	session := newDesignSession(client, args[0], "", "", cmd.OutOrStdout())
	if _, err := session.Init(ctx, req); err != nil {
		ux.Error(err.Error())
		return err
	}
	ux.Success(fmt.Sprintf("Modules for %s accepted (conversation %s)", args[0], session.conversationID))
	return nil
}

func runShow(cmd *cobra.Command, args []string) error {
	client := newArchitectClient(serverURL, nil)
	p, err := client.Project(commandContext(cmd), args[0])
	if err != nil {
		ux.Error(err.Error())
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), formatProject(p, ux.GetPersonality().Level == ux.PersonalityMachine))
	return nil
}

func runAccept(cmd *cobra.Command, args []string) error {
	client := newArchitectClient(serverURL, nil)
	res, err := client.Accept(commandContext(cmd), args[0])
	if err != nil {
		ux.Error(err.Error())
		return err
	}
	ux.Success(fmt.Sprintf("Accepted into %s (snapshot %s)", res.ProjectKey, res.SnapshotID))
	return nil
}

// formatProject renders a project's status and module outline. Machine
// output is one tab-separated MODULE line per module.
func formatProject(p *datatypes.ProjectResponse, machine bool) string {
	var b strings.Builder
	if machine {
		fmt.Fprintf(&b, "PROJECT\t%s\t%s\t%s\n", p.ProjectKey, p.Status, p.SnapshotID)
		for _, m := range p.Modules {
			fmt.Fprintf(&b, "MODULE\t%s\t%s\t%s\n", m.Name, m.Title, formatItemCounts(m.Items))
		}
		return b.String()
	}

	b.WriteString(ux.Styles.Title.Render(p.ProjectKey))
	fmt.Fprintf(&b, "  %s\n", ux.Styles.Muted.Render(p.Status+" · "+p.SnapshotID))
	if len(p.Modules) == 0 {
		b.WriteString(ux.Styles.Muted.Render("No modules yet. Run `architect init "+p.ProjectKey+"`.") + "\n")
		return b.String()
	}
	for _, m := range p.Modules {
		title := m.Title
		if title == "" {
			title = ux.Styles.Muted.Render("(no module item)")
		}
		fmt.Fprintf(&b, "  %s %s  %s\n", ux.Styles.Bold.Render(m.Name), title,
			ux.Styles.Muted.Render(formatItemCounts(m.Items)))
	}
	return b.String()
}

// formatItemCounts renders per-category counts in a stable order.
func formatItemCounts(items map[string]int) string {
	parts := make([]string, 0, len(items))
	for _, c := range slices.Sorted(maps.Keys(items)) {
		parts = append(parts, fmt.Sprintf("%s=%d", c, items[c]))
	}
	return strings.Join(parts, " ")
}

func readOptionalFile(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(data), nil
}
