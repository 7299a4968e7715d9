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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/AleutianAI/AleutianArchitect/pkg/tagstream"
	"github.com/AleutianAI/AleutianArchitect/pkg/ux"
	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
)

// renderChunkSize is how much of a file is fed to the parser at once. Small
// chunks make a replayed answer look like the live stream.
const renderChunkSize = 256

func runRender(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt)
	defer stop()

	renderer := ux.NewTerminalSpanRenderer(cmd.OutOrStdout(), ux.GetPersonality())
	parser := tagstream.New(renderer)

	var err error
	if followFile {
		err = followRender(ctx, args[0], parser)
	} else {
		err = renderFile(args[0], parser)
	}
	if err != nil {
		ux.Error(err.Error())
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout())

	stats := renderer.Stats()
	if stats.Forced > 0 {
		ux.Warning(fmt.Sprintf("%d span(s) were never closed", stats.Forced))
	}
	if stats.ParseIssues > 0 {
		ux.Warning(fmt.Sprintf("%d item(s) could not be parsed", stats.ParseIssues))
	}
	return nil
}

// renderFile feeds the whole file through parser and finishes it.
func renderFile(path string, parser *tagstream.Parser) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if err := feedReader(f, parser); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	parser.Finish()
	return nil
}

// followRender renders path and keeps rendering what is appended to it.
//
// # Description
//
// The watch is registered before the first read so nothing written in
// between is lost. The parent directory is watched rather than the file:
// removing a file that is still open only raises a Remove on its directory.
// Following ends when ctx is done or the file is removed or renamed; the
// parser is finished either way, so a span still open at that point is
// force-closed.
func followRender(ctx context.Context, path string, parser *tagstream.Parser) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	defer parser.Finish()

	if err := feedReader(f, parser); err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path {
				continue
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if err := feedReader(f, parser); err != nil {
					return fmt.Errorf("read %s: %w", path, err)
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("watch %s: %w", path, err)
		}
	}
}

// feedReader feeds r to parser until EOF without finishing it.
func feedReader(r io.Reader, parser *tagstream.Parser) error {
	buf := make([]byte, renderChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			parser.Feed(string(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
