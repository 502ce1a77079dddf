package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"reelflow/internal/orchestrator"
	"reelflow/internal/reconcile"
	"reelflow/internal/services/backend"
)

func newShotsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shots",
		Short: "Inspect shots and request per-shot generation",
	}
	cmd.AddCommand(newShotsListCommand(ctx))
	cmd.AddCommand(newShotsShowCommand(ctx))
	cmd.AddCommand(newShotsGenerateCommand(ctx, orchestrator.JobImages))
	cmd.AddCommand(newShotsGenerateCommand(ctx, orchestrator.JobClip))
	return cmd
}

func newShotsListCommand(ctx *commandContext) *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "list RUN_ID",
		Short: "List the shots of a run",
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
			snap := sess.Snapshot()
			if jsonOutput {
				return writeJSON(cmd, snap.Shots)
			}
			if len(snap.Shots) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "No shots for %s (%s)\n", snap.RunID, snap.State)
				return nil
			}
			fmt.Fprint(cmd.OutOrStdout(), renderShotsTable(snap.Shots))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	return cmd
}

func renderShotsTable(shots []reconcile.Shot) string {
	rows := make([][]string, 0, len(shots))
	for _, shot := range shots {
		rows = append(rows, []string{
			shot.ID,
			formatBeat(shot),
			titleCase(strings.ReplaceAll(shot.Intent, "_", " ")),
			shot.Status,
			yesNo(shot.Prompts != nil && shot.Prompts.Video != nil),
			fmt.Sprintf("%d", len(shot.Media(backend.AssetImageStart))+len(shot.Media(backend.AssetImageEnd))),
			fmt.Sprintf("%d", len(shot.Media(backend.AssetClip))),
		})
	}
	headers := []string{"Shot", "Beat", "Intent", "Status", "Prompts", "Images", "Clips"}
	aligns := []columnAlignment{alignLeft, alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight}
	return renderTable(headers, rows, aligns)
}

func formatBeat(shot reconcile.Shot) string {
	if shot.BeatStartS == nil || shot.BeatEndS == nil {
		return "-"
	}
	return fmt.Sprintf("%.1fs-%.1fs", *shot.BeatStartS, *shot.BeatEndS)
}

func newShotsShowCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show RUN_ID SHOT_ID",
		Short: "Show a shot's plan, prompts, and media",
		Args:  cobra.ExactArgs(2),
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
			shot, ok := sess.Snapshot().Shot(args[1])
			if !ok {
				return fmt.Errorf("%w: %s", orchestrator.ErrUnknownShot, args[1])
			}
			renderShotDetail(cmd, shot, baseURL(ctx))
			return nil
		},
	}
	return cmd
}

func renderShotDetail(cmd *cobra.Command, shot reconcile.Shot, base string) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Shot:     %s\n", shot.ID)
	fmt.Fprintf(out, "Status:   %s\n", shot.Status)
	fmt.Fprintf(out, "Beat:     %s\n", formatBeat(shot))
	fmt.Fprintf(out, "Intent:   %s\n", valueOrDash(shot.Intent))
	fmt.Fprintf(out, "Script:   %s\n", valueOrDash(shot.ScriptText))
	if shot.AIPlan != nil {
		fmt.Fprintf(out, "Metaphor: %s\n", derefOrDash(shot.AIPlan.Metaphor))
		fmt.Fprintf(out, "Camera:   %s\n", derefOrDash(shot.AIPlan.Camera))
	}
	if shot.Prompts != nil {
		fmt.Fprintf(out, "Image A:  %s\n", derefOrDash(shot.Prompts.ImageA))
		fmt.Fprintf(out, "Image B:  %s\n", derefOrDash(shot.Prompts.ImageB))
		fmt.Fprintf(out, "Video:    %s\n", derefOrDash(shot.Prompts.Video))
	}
	for _, kind := range []string{backend.AssetImageStart, backend.AssetImageEnd, backend.AssetClip} {
		if asset, ok := shot.Latest(kind); ok {
			fmt.Fprintf(out, "%-9s %s\n", kind+":", absoluteURL(base, asset.URL))
		}
	}
}

func newShotsGenerateCommand(ctx *commandContext, kind orchestrator.JobKind) *cobra.Command {
	var noWait bool
	use, short := "generate-images", "Generate the start and end frames of a shot"
	if kind == orchestrator.JobClip {
		use, short = "generate-clip", "Generate the video clip of a shot"
	}
	cmd := &cobra.Command{
		Use:   use + " RUN_ID SHOT_ID",
		Short: short,
		Args:  cobra.ExactArgs(2),
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
			generate := sess.GenerateImages
			if kind == orchestrator.JobClip {
				generate = sess.GenerateClip
			}
			job, err := generate(cmd.Context(), args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Requested %s for %s\n", kind, args[1])
			if noWait {
				return nil
			}
			result, err := job.Wait(cmd.Context())
			if err != nil {
				return err
			}
			return reportJob(cmd, result, baseURL(ctx))
		},
	}
	cmd.Flags().BoolVar(&noWait, "no-wait", false, "Return once the backend accepts the request")
	return cmd
}

func reportJob(cmd *cobra.Command, result orchestrator.JobResult, base string) error {
	out := cmd.OutOrStdout()
	switch result.Outcome {
	case orchestrator.OutcomeCompleted:
		fmt.Fprintf(out, "%s ready for %s\n", titleCase(string(result.Kind)), result.ShotID)
		for _, kind := range result.Kind.AssetTypes() {
			if asset, ok := result.Shot.Latest(kind); ok {
				fmt.Fprintf(out, "  %s %s\n", kind, absoluteURL(base, asset.URL))
			}
		}
		return nil
	case orchestrator.OutcomeTimedOut:
		fmt.Fprintf(out, "Stopped waiting for %s of %s; the backend may still finish it\n", result.Kind, result.ShotID)
		return nil
	default:
		if result.Err != nil {
			return result.Err
		}
		return fmt.Errorf("%s job for %s cancelled", result.Kind, result.ShotID)
	}
}

func baseURL(ctx *commandContext) string {
	cfg, err := ctx.ensureConfig()
	if err != nil || cfg == nil {
		return ""
	}
	return cfg.Backend.BaseURL
}

// absoluteURL joins relative asset paths onto the backend base URL.
func absoluteURL(base, ref string) string {
	if ref == "" || base == "" || !strings.HasPrefix(ref, "/") {
		return ref
	}
	return strings.TrimRight(base, "/") + ref
}
