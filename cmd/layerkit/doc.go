// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for layerkit.
//
// Commands are built per App by NewRootCommand, so tests can run the full
// command tree in-process with their own output streams and configuration:
//
//	app := cmd.NewApp(cmd.Dependencies{Stdout: &out, Stderr: &errOut})
//	code := app.Run(ctx, []string{"plan", "layerkit.cue"})
package cmd
