package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"reelflow/internal/orchestrator"
	"reelflow/internal/pipeline"
	"reelflow/internal/registry"
	"reelflow/internal/services/backend"
)

func newRunsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Create, inspect, and advance runs",
	}
	cmd.AddCommand(newRunsListCommand(ctx))
	cmd.AddCommand(newRunsCreateCommand(ctx))
	cmd.AddCommand(newRunsWatchCommand(ctx))
	cmd.AddCommand(newRunsConfirmCommand(ctx))
	return cmd
}

func newRunsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs known to the backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := ctx.orchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			if err := orch.RefreshRuns(cmd.Context()); err != nil {
				return fmt.Errorf("list runs: %w", err)
			}
			runs := orch.Runs()
			if jsonOutput {
				return writeJSON(cmd, runs)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No runs found")
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderRunsTable(runs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderRunsTable(runs []registry.Run) string {
	rows := make([][]string, 0, len(runs))
	for _, run := range runs {
		stage, status, progress := "-", "-", "-"
		if run.Status != nil {
			stage = titleCase(run.Status.CurrentStage)
			status = run.Status.StageStatus
			if run.Status.ProgressTotal != nil {
				current := 0
				if run.Status.ProgressCurrent != nil {
					current = *run.Status.ProgressCurrent
				}
				progress = fmt.Sprintf("%d/%d", current, *run.Status.ProgressTotal)
			}
		}
		rows = append(rows, []string{
			run.ID,
			run.Name,
			stage,
			status,
			progress,
			string(run.Display),
			valueOrDash(run.CreatedAt),
		})
	}
	headers := []string{"ID", "Name", "Stage", "Status", "Progress", "Display", "Created"}
	aligns := []columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft, alignLeft}
	return renderTable(headers, rows, aligns)
}

type createOptions struct {
	script     string
	styleBible string
	voiceover  string
	name       string
	runID      string
	videoID    string
	noFollow   bool
	plain      bool
}

func newRunsCreateCommand(ctx *commandContext) *cobra.Command {
	var opts createOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Upload run materials and start planning",
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := opts.input()
			if err != nil {
				return err
			}
			orch, err := ctx.orchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			sess, err := orch.CreateRun(cmd.Context(), input)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created run %s\n", sess.RunID())
			if opts.noFollow {
				return nil
			}
			return follow(cmd, sess, opts.plain)
		},
	}
	cmd.Flags().StringVar(&opts.script, "script", "", "Script text file")
	cmd.Flags().StringVar(&opts.styleBible, "style-bible", "", "Style bible markdown file")
	cmd.Flags().StringVar(&opts.voiceover, "voiceover", "", "Voiceover audio file")
	cmd.Flags().StringVar(&opts.name, "name", "", "Display name for the run")
	cmd.Flags().StringVar(&opts.runID, "run-id", "", "Run identifier (generated when empty)")
	cmd.Flags().StringVar(&opts.videoID, "video-id", "", "Video identifier (generated when empty)")
	cmd.Flags().BoolVar(&opts.noFollow, "no-follow", false, "Return once planning has started")
	cmd.Flags().BoolVar(&opts.plain, "plain", false, "Print plain progress lines instead of the live view")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

// input reads the upload files. Missing optional materials are sent empty.
func (o createOptions) input() (orchestrator.CreateRunInput, error) {
	script, err := readUpload(o.script, "script.txt")
	if err != nil {
		return orchestrator.CreateRunInput{}, err
	}
	style, err := readUpload(o.styleBible, "style_bible.md")
	if err != nil {
		return orchestrator.CreateRunInput{}, err
	}
	voice, err := readUpload(o.voiceover, "voiceover.mp3")
	if err != nil {
		return orchestrator.CreateRunInput{}, err
	}
	return orchestrator.CreateRunInput{
		RunID:      o.runID,
		VideoID:    o.videoID,
		Name:       o.name,
		Script:     script,
		StyleBible: style,
		Voiceover:  voice,
	}, nil
}

func readUpload(path, fallbackName string) (backend.Upload, error) {
	if path == "" {
		return backend.Upload{Filename: fallbackName}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return backend.Upload{}, fmt.Errorf("read %s: %w", path, err)
	}
	return backend.Upload{Filename: filepath.Base(path), Content: data}, nil
}

func newRunsWatchCommand(ctx *commandContext) *cobra.Command {
	var plain bool
	cmd := &cobra.Command{
		Use:   "watch RUN_ID",
		Short: "Follow a run until it needs operator input",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := ctx.orchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			sess, err := orch.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return follow(cmd, sess, plain)
		},
	}
	cmd.Flags().BoolVar(&plain, "plain", false, "Print plain progress lines instead of the live view")
	return cmd
}

func newRunsConfirmCommand(ctx *commandContext) *cobra.Command {
	var noFollow bool
	var plain bool
	cmd := &cobra.Command{
		Use:   "confirm RUN_ID",
		Short: "Approve a completed plan and start prompt synthesis",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch, err := ctx.orchestrator()
			if err != nil {
				return err
			}
			defer orch.Close()

			sess, err := orch.Open(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := sess.ConfirmPlan(cmd.Context()); err != nil {
				return fmt.Errorf("confirm %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Prompt synthesis started for %s\n", sess.RunID())
			if noFollow {
				return nil
			}
			return follow(cmd, sess, plain)
		},
	}
	cmd.Flags().BoolVar(&noFollow, "no-follow", false, "Return once prompt synthesis has started")
	cmd.Flags().BoolVar(&plain, "plain", false, "Print plain progress lines instead of the live view")
	return cmd
}

// follow streams session updates until the run settles. The live view is used
// only when stdout is a terminal.
func follow(cmd *cobra.Command, sess *orchestrator.Session, plain bool) error {
	if !plain && isTerminal(cmd.OutOrStdout()) {
		return watchLive(cmd.Context(), sess)
	}
	return watchPlain(cmd.Context(), cmd.OutOrStdout(), sess)
}

// settled reports whether a snapshot needs no further polling to be useful:
// the plan awaits confirmation, prompts are ready, a stage failed, or the
// session closed.
func settled(snap orchestrator.Snapshot) bool {
	switch {
	case snap.Closed:
		return true
	case snap.State.Failure != "":
		return true
	case snap.State.Stage == pipeline.StageReady:
		return true
	case snap.State.Stage == pipeline.StagePlanning && snap.State.PlanningComplete:
		return true
	}
	return false
}

func nextStep(snap orchestrator.Snapshot) string {
	switch {
	case snap.State.Failure != "":
		return "Stage failed: " + snap.State.Failure
	case snap.State.Stage == pipeline.StageReady:
		return fmt.Sprintf("Run %s is ready (%d shots)", snap.RunID, len(snap.Shots))
	case snap.State.Stage == pipeline.StagePlanning && snap.State.PlanningComplete:
		return fmt.Sprintf("Plan ready for review (%d shots). Run `reelflow runs confirm %s` to continue", len(snap.Shots), snap.RunID)
	case snap.Closed:
		return "Session closed"
	}
	return ""
}
