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
	"github.com/AleutianAI/AleutianArchitect/pkg/ux"
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	serverURL        string
	personalityLevel string // UX personality level (full/standard/minimal/machine)
	configPath       string
	projectKey       string
	conversationID   string
	designMode       string
	prdPath          string
	constraintsPath  string
	followFile       bool
	noColour         bool

	rootCmd = &cobra.Command{
		Use:   "architect",
		Short: "Design a project's technical document together with an LLM",
		Long: `Architect turns a product requirements document into a structured
technical design and refines it through conversation. The server keeps every
answer's changes as a snapshot lineage so a conversation can be reviewed
before it is accepted into the project.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if personalityLevel != "" {
				ux.SetPersonalityLevel(ux.ParsePersonalityLevel(personalityLevel))
			} else {
				ux.InitPersonality()
			}
		},
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the architect orchestrator server",
		RunE:  runServe, // Defined in cmd_serve.go
	}

	// --- Design ---
	chatCmd = &cobra.Command{
		Use:   "chat [command]",
		Short: "Hold a design conversation about a project",
		Long: `Without arguments chat starts an interactive session. With an argument
it runs a single turn and exits.`,
		RunE: runChat, // Defined in cmd_chat.go
	}
	initCmd = &cobra.Command{
		Use:   "init <projectKey>",
		Short: "Split a project's PRD into modules and accept the result",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit, // Defined in cmd_project.go
	}

	// --- Projects & Conversations ---
	showCmd = &cobra.Command{
		Use:   "show <projectKey>",
		Short: "Show a project's status and module outline",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow, // Defined in cmd_project.go
	}
	acceptCmd = &cobra.Command{
		Use:   "accept <conversationId>",
		Short: "Accept a conversation's changes into its project",
		Args:  cobra.ExactArgs(1),
		RunE:  runAccept, // Defined in cmd_project.go
	}

	// --- Local Tools ---
	renderCmd = &cobra.Command{
		Use:   "render <file>",
		Short: "Render a saved model answer with span highlighting",
		Args:  cobra.ExactArgs(1),
		RunE:  runRender, // Defined in cmd_render.go
	}
	diffCmd = &cobra.Command{
		Use:   "diff <before.json> <after.json>",
		Short: "Show the difference between two document snapshots",
		Args:  cobra.ExactArgs(2),
		RunE:  runDiff, // Defined in cmd_diff.go
	}
)

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&personalityLevel, "personality", "",
		"Output style: full (default), standard, minimal, or machine (scripting)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL,
		"Base URL of the architect server")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&configPath, "config", "",
		"Config file (default ~/.aleutian/architect.yaml, created on first run)")

	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVarP(&projectKey, "project", "p", "", "Project key to design")
	chatCmd.Flags().StringVarP(&conversationID, "conversation", "c", "",
		"Continue an existing conversation")
	chatCmd.Flags().StringVar(&designMode, "mode", "module_design",
		"Turn mode: module_design or update_modified (never deletes)")
	_ = chatCmd.MarkFlagRequired("project")

	rootCmd.AddCommand(initCmd)
	initCmd.Flags().StringVar(&prdPath, "prd", "", "PRD file; the stored PRD is used when omitted")
	initCmd.Flags().StringVar(&constraintsPath, "constraints", "", "Technical constraints file")

	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(acceptCmd)

	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().BoolVarP(&followFile, "follow", "f", false,
		"Keep rendering as the file grows")

	rootCmd.AddCommand(diffCmd)
	diffCmd.Flags().BoolVar(&noColour, "no-colour", false, "Disable ANSI colour")
}
