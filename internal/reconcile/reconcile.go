package reconcile

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/url"
	"strings"

	"reelflow/internal/logging"
	"reelflow/internal/services/backend"
)

// Reconciler converts backend shot records into view records.
type Reconciler struct {
	logger *slog.Logger
}

// New constructs a Reconciler. Per-field parse failures are logged at debug
// level on logger.
func New(logger *slog.Logger) *Reconciler {
	return &Reconciler{logger: logging.NewComponentLogger(logger, "reconciler")}
}

var defaultReconciler = New(nil)

// Shots converts a shot tree with a silent reconciler.
func Shots(raw []backend.Shot) []Shot { return defaultReconciler.Shots(raw) }

// FromBackend converts one shot with a silent reconciler.
func FromBackend(raw backend.Shot) Shot { return defaultReconciler.Shot(raw) }

// Shots converts every record, preserving order.
func (r *Reconciler) Shots(raw []backend.Shot) []Shot {
	out := make([]Shot, 0, len(raw))
	for _, shot := range raw {
		out = append(out, r.Shot(shot))
	}
	return out
}

// Shot converts one backend record.
func (r *Reconciler) Shot(raw backend.Shot) Shot {
	logger := r.logger.With(logging.String(logging.FieldShotID, raw.ShotID))

	shot := Shot{
		ID:         raw.ShotID,
		RunID:      raw.RunID,
		VideoID:    raw.VideoID,
		ScriptText: raw.ScriptText,
		Intent:     raw.Intent,
		DurationS:  raw.DurationS,
		BeatStartS: raw.BeatStartS,
		BeatEndS:   raw.BeatEndS,
		Status:     raw.Status,
		Assets:     make([]Asset, 0, len(raw.Assets)),
	}

	var promptAssets []backend.Asset
	for _, asset := range raw.Assets {
		if asset.IsType(backend.AssetPrompt) {
			promptAssets = append(promptAssets, asset)
			continue
		}
		shot.Assets = append(shot.Assets, Asset{
			ID:         asset.AssetID,
			Type:       strings.ToUpper(strings.TrimSpace(asset.Type)),
			Role:       asset.Role,
			URL:        AssetURL(asset),
			CreatedAt:  asset.CreatedAt,
			IsSelected: asset.IsSelected,
		})
	}

	camera, hasCamera := parseCamera(raw.CameraConfig, logger)
	metaphor := trimmed(raw.Metaphor)

	if metaphor != nil || hasCamera {
		plan := &AIPlan{Metaphor: metaphor}
		if hasCamera {
			display := camera.display()
			plan.Camera = &display
		}
		shot.AIPlan = plan
	}

	if len(promptAssets) > 0 {
		prompts := Prompts{
			ImageA: rolePrompt(promptAssets, backend.RoleStartRef, logger),
			ImageB: rolePrompt(promptAssets, backend.RoleEndRef, logger),
			Video:  videoPrompt(metaphor, camera, hasCamera),
		}
		if prompts.ImageA != nil || prompts.ImageB != nil || prompts.Video != nil {
			shot.Prompts = &prompts
		}
	}

	return shot
}

// AssetURL returns the asset's embedded URL or the synthesized file endpoint.
func AssetURL(asset backend.Asset) string {
	if u := strings.TrimSpace(asset.URL); u != "" {
		return u
	}
	return "/api/assets/" + url.PathEscape(asset.AssetID) + "/file"
}

// cameraValue is a decoded camera configuration: either free text or a
// structured value.
type cameraValue struct {
	text       string
	structured any
	isText     bool
}

func (c cameraValue) display() string {
	if c.isText {
		return c.text
	}
	data, err := json.Marshal(c.structured)
	if err != nil {
		return ""
	}
	return string(data)
}

// movement returns the camera descriptor used in the video prompt.
func (c cameraValue) movement() string {
	if c.isText {
		return c.text
	}
	if obj, ok := c.structured.(map[string]any); ok {
		if m, ok := obj["movement"].(string); ok && strings.TrimSpace(m) != "" {
			return strings.TrimSpace(m)
		}
	}
	return "static"
}

// parseCamera accepts a JSON structure, a JSON string containing serialized
// JSON, or a JSON string holding free text. A string that does not parse falls
// back to its raw text.
func parseCamera(raw json.RawMessage, logger *slog.Logger) (cameraValue, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return cameraValue{}, false
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		logger.Debug("camera config is not valid JSON; using raw value", logging.Error(err))
		return cameraValue{text: string(raw), isText: true}, true
	}

	text, isString := decoded.(string)
	if !isString {
		return cameraValue{structured: decoded}, true
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return cameraValue{}, false
	}
	var nested any
	if err := json.Unmarshal([]byte(text), &nested); err == nil {
		if s, ok := nested.(string); ok {
			return cameraValue{text: s, isText: true}, true
		}
		return cameraValue{structured: nested}, true
	}
	return cameraValue{text: text, isText: true}, true
}

func videoPrompt(metaphor *string, camera cameraValue, hasCamera bool) *string {
	var value string
	switch {
	case metaphor != nil && hasCamera:
		value = *metaphor + ", " + camera.movement() + " movement"
	case metaphor != nil:
		value = *metaphor
	case hasCamera:
		value = camera.movement() + " movement"
	default:
		return nil
	}
	return &value
}

// rolePrompt returns the prompt text embedded in the first PROMPT asset with
// the given role.
func rolePrompt(assets []backend.Asset, role string, logger *slog.Logger) *string {
	for _, asset := range assets {
		if !strings.EqualFold(strings.TrimSpace(asset.Role), role) {
			continue
		}
		meta, err := decodeMetadata(asset.Metadata)
		if err != nil {
			logger.Debug("prompt metadata unreadable",
				logging.String("asset_id", asset.AssetID),
				logging.Error(err))
			return nil
		}
		for _, key := range []string{"prompt", "text"} {
			if text, ok := meta[key].(string); ok && strings.TrimSpace(text) != "" {
				value := text
				return &value
			}
		}
		return nil
	}
	return nil
}

// decodeMetadata accepts metadata as a JSON object or as a JSON string holding
// a serialized object.
func decodeMetadata(raw json.RawMessage) (map[string]any, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return map[string]any{}, nil
	}
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		raw = []byte(text)
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, err
	}
	return meta, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	text := strings.TrimSpace(*value)
	if text == "" {
		return nil
	}
	return &text
}
