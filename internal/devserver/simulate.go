package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"reelflow/internal/logging"
	"reelflow/internal/services/backend"
)

type stageResult struct {
	message string
	total   int
}

type stageFunc func(s *Server, ctx context.Context, runID string, version int) (stageResult, error)

var stageWork = map[string]stageFunc{
	backend.StagePlanning: (*Server).planStage,
	backend.StagePrompts:  (*Server).promptStage,
	backend.StageImages:   (*Server).imageStage,
	backend.StageClips:    (*Server).clipStage,
}

type jobKind string

const (
	jobImages jobKind = "images"
	jobClip   jobKind = "clip"
)

func (k jobKind) label() string {
	if k == jobClip {
		return "Clip"
	}
	return "Image"
}

var (
	metaphors = []string{
		"A lighthouse cutting through fog",
		"Dominoes tipping in sequence",
		"A seedling breaking through concrete",
		"Gears meshing inside a clock",
		"A tide rolling back from the shore",
	}
	intents = []string{"establish", "explain", "contrast", "escalate", "resolve"}
	cameras = []map[string]string{
		{"movement": "push-in", "lens": "35mm"},
		{"movement": "pan-left", "lens": "50mm"},
		{"movement": "crane-up", "lens": "24mm"},
		{"movement": "static", "lens": "85mm"},
	}
)

func (s *Server) runStage(ctx context.Context, runID string, version int, stage string) {
	ctx = logging.WithStage(logging.WithRun(ctx, runID), stage)
	logger := logging.WithContext(ctx, s.logger)
	logger.Info("stage started")

	result, err := stageWork[stage](s, ctx, runID, version)
	// The store stays open until every spawned task has returned.
	writeCtx := context.WithoutCancel(ctx)
	if err != nil {
		if ctx.Err() != nil {
			err = errors.New("interrupted by shutdown")
		}
		logger.Warn("stage failed", logging.Error(err))
		if setErr := s.store.SetStatus(writeCtx, runID, version, StatusUpdate{Stage: stage, Status: "error: " + err.Error()}); setErr != nil {
			logger.Error("record stage failure", logging.Error(setErr))
		}
		return
	}
	update := StatusUpdate{Stage: stage, Status: "done", Current: result.total, Total: result.total, Message: result.message}
	if err := s.store.SetStatus(writeCtx, runID, version, update); err != nil {
		logger.Error("record stage completion", logging.Error(err))
		return
	}
	logger.Info("stage complete", logging.String("message", result.message))
}

// step publishes a progress message and then waits one step delay.
func (s *Server) step(ctx context.Context, runID string, version int, stage string, current, total int, message string) error {
	update := StatusUpdate{Stage: stage, Status: "running", Current: current, Total: total, Message: message}
	if err := s.store.SetStatus(ctx, runID, version, update); err != nil {
		return err
	}
	return s.sleep(ctx)
}

func (s *Server) sleep(ctx context.Context) error {
	if s.opts.StepDelay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(s.opts.StepDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (s *Server) planStage(ctx context.Context, runID string, version int) (stageResult, error) {
	steps := []string{"Reading script", "Segmenting beats", "Drafting shot plan"}
	for i, step := range steps {
		if err := s.step(ctx, runID, version, backend.StagePlanning, i, len(steps), step); err != nil {
			return stageResult{}, err
		}
	}
	script, err := os.ReadFile(filepath.Join(s.runDir(runID, version), "staging", "script.txt"))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return stageResult{}, fmt.Errorf("read script: %w", err)
	}
	shots := planShots(runID, version, string(script), s.opts.ShotsPerRun)
	if err := s.store.ReplaceShots(ctx, runID, version, shots); err != nil {
		return stageResult{}, err
	}
	return stageResult{message: fmt.Sprintf("Planned %d shots", len(shots)), total: len(steps)}, nil
}

func (s *Server) promptStage(ctx context.Context, runID string, version int) (stageResult, error) {
	shots, err := s.plannedShots(ctx, runID, version)
	if err != nil {
		return stageResult{}, err
	}
	for i, shot := range shots {
		if err := s.step(ctx, runID, version, backend.StagePrompts, i, len(shots), "Writing prompts for "+shot.ShotID); err != nil {
			return stageResult{}, err
		}
		start, end := framePrompts(shot)
		for _, prompt := range []struct{ role, text string }{
			{backend.RoleStartRef, start},
			{backend.RoleEndRef, end},
		} {
			metadata, err := json.Marshal(map[string]string{"prompt": prompt.text})
			if err != nil {
				return stageResult{}, fmt.Errorf("encode prompt metadata: %w", err)
			}
			asset := backend.Asset{
				AssetID:  s.newID(),
				ShotID:   shot.ShotID,
				Type:     backend.AssetPrompt,
				Role:     prompt.role,
				Metadata: metadata,
			}
			if _, err := s.store.AddAsset(ctx, runID, version, asset); err != nil {
				return stageResult{}, err
			}
		}
	}
	return stageResult{message: fmt.Sprintf("Prompts written for %d shots", len(shots)), total: len(shots)}, nil
}

func (s *Server) imageStage(ctx context.Context, runID string, version int) (stageResult, error) {
	return s.mediaStage(ctx, runID, version, backend.StageImages, jobImages)
}

func (s *Server) clipStage(ctx context.Context, runID string, version int) (stageResult, error) {
	return s.mediaStage(ctx, runID, version, backend.StageClips, jobClip)
}

func (s *Server) mediaStage(ctx context.Context, runID string, version int, stage string, kind jobKind) (stageResult, error) {
	shots, err := s.plannedShots(ctx, runID, version)
	if err != nil {
		return stageResult{}, err
	}
	for i, shot := range shots {
		if err := s.step(ctx, runID, version, stage, i, len(shots), fmt.Sprintf("Rendering %s for %s", kind, shot.ShotID)); err != nil {
			return stageResult{}, err
		}
		if err := s.addMedia(ctx, runID, version, shot, kind); err != nil {
			return stageResult{}, err
		}
	}
	return stageResult{message: fmt.Sprintf("Rendered %s for %d shots", kind, len(shots)), total: len(shots)}, nil
}

func (s *Server) plannedShots(ctx context.Context, runID string, version int) ([]backend.Shot, error) {
	shots, err := s.store.Shots(ctx, runID, version)
	if err != nil {
		return nil, err
	}
	if len(shots) == 0 {
		return nil, errors.New("no shots planned; run planning first")
	}
	return shots, nil
}

// runShotJob simulates one per-shot generation request.
func (s *Server) runShotJob(ctx context.Context, runID string, version int, shotID string, kind jobKind) {
	ctx = logging.WithShot(logging.WithRun(ctx, runID), shotID)
	logger := logging.WithContext(ctx, s.logger)
	if err := s.sleep(ctx); err != nil {
		logger.Info("generation interrupted", logging.String("job", string(kind)))
		return
	}
	shot, err := s.store.Shot(ctx, runID, version, shotID)
	if err != nil {
		logger.Warn("generation target vanished", logging.Error(err))
		return
	}
	if err := s.addMedia(ctx, runID, version, shot, kind); err != nil {
		logger.Error("generation failed", logging.Error(err))
		return
	}
	status := "IMAGES_READY"
	if kind == jobClip {
		status = "CLIP_READY"
	}
	if err := s.store.SetShotStatus(ctx, runID, version, shotID, status); err != nil {
		logger.Warn("update shot status", logging.Error(err))
	}
	logger.Info("generation complete", logging.String("job", string(kind)))
}

func (s *Server) addMedia(ctx context.Context, runID string, version int, shot backend.Shot, kind jobKind) error {
	type item struct {
		assetType, role, ext string
		content              []byte
	}
	var items []item
	if kind == jobClip {
		manifest, err := json.MarshalIndent(map[string]any{
			"shot_id":    shot.ShotID,
			"duration_s": shot.DurationS,
			"rendered":   s.timestampNow(),
		}, "", "  ")
		if err != nil {
			return fmt.Errorf("encode clip manifest: %w", err)
		}
		items = append(items, item{backend.AssetClip, backend.RoleFinalClip, ".json", manifest})
	} else {
		items = append(items,
			item{backend.AssetImageStart, backend.RoleStartRef, ".svg", placeholderSVG(shot.ShotID, "start frame")},
			item{backend.AssetImageEnd, backend.RoleEndRef, ".svg", placeholderSVG(shot.ShotID, "end frame")},
		)
	}

	mediaDir := filepath.Join(s.runDir(runID, version), "media")
	if err := os.MkdirAll(mediaDir, 0o755); err != nil {
		return fmt.Errorf("ensure media dir: %w", err)
	}
	for _, it := range items {
		id := s.newID()
		path := filepath.Join(mediaDir, id+it.ext)
		if err := os.WriteFile(path, it.content, 0o644); err != nil {
			return fmt.Errorf("write media: %w", err)
		}
		asset := backend.Asset{AssetID: id, ShotID: shot.ShotID, Type: it.assetType, Role: it.role, Path: path}
		if _, err := s.store.AddAsset(ctx, runID, version, asset); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) timestampNow() string {
	return s.store.timestamp()
}

// planShots splits a script into at most count shots of consecutive
// sentences with back-to-back beat windows.
func planShots(runID string, version int, script string, count int) []backend.Shot {
	if count <= 0 {
		count = 1
	}
	sentences := splitSentences(script)
	if len(sentences) == 0 {
		for i := 1; i <= count; i++ {
			sentences = append(sentences, fmt.Sprintf("Beat %d.", i))
		}
	}
	if count > len(sentences) {
		count = len(sentences)
	}

	shots := make([]backend.Shot, 0, count)
	clock := 0.0
	for i := 0; i < count; i++ {
		lo := i * len(sentences) / count
		hi := (i + 1) * len(sentences) / count
		text := strings.Join(sentences[lo:hi], " ")
		duration := math.Max(2, math.Round(float64(len(strings.Fields(text)))/2.5*10)/10)
		start, end := clock, clock+duration
		clock = end

		metaphor := metaphors[i%len(metaphors)]
		camera, _ := json.Marshal(cameras[i%len(cameras)])
		shots = append(shots, backend.Shot{
			ShotID:       fmt.Sprintf("%s_s%03d", runID, i+1),
			RunID:        runID,
			Version:      version,
			ScriptText:   text,
			Intent:       intents[i%len(intents)],
			Metaphor:     &metaphor,
			CameraConfig: camera,
			DurationS:    &duration,
			BeatStartS:   &start,
			BeatEndS:     &end,
			Status:       "PLANNED",
		})
	}
	return shots
}

func splitSentences(text string) []string {
	var (
		out     []string
		current strings.Builder
	)
	flush := func() {
		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			out = append(out, sentence)
		}
		current.Reset()
	}
	for _, r := range text {
		if r == '\n' || r == '\r' {
			flush()
			continue
		}
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			flush()
		}
	}
	flush()
	return out
}

func framePrompts(shot backend.Shot) (string, string) {
	metaphor := "the subject"
	if shot.Metaphor != nil && strings.TrimSpace(*shot.Metaphor) != "" {
		metaphor = strings.TrimSpace(*shot.Metaphor)
	}
	script := strings.TrimSpace(shot.ScriptText)
	start := fmt.Sprintf("Opening frame, %s, setting up: %s", strings.ToLower(metaphor), script)
	end := fmt.Sprintf("Closing frame, %s, resolved: %s", strings.ToLower(metaphor), script)
	return start, end
}

func placeholderSVG(shotID, caption string) []byte {
	return fmt.Appendf(nil, `<svg xmlns="http://www.w3.org/2000/svg" width="640" height="360" viewBox="0 0 640 360">
<rect width="640" height="360" fill="#1f2933"/>
<text x="320" y="170" fill="#e4e7eb" font-family="sans-serif" font-size="28" text-anchor="middle">%s</text>
<text x="320" y="210" fill="#9aa5b1" font-family="sans-serif" font-size="18" text-anchor="middle">%s</text>
</svg>
`, html.EscapeString(shotID), html.EscapeString(caption))
}
