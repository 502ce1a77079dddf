package backend

import (
	"encoding/json"
	"strings"
)

// Stage names accepted by the execute endpoint.
const (
	StagePlanning = "planning"
	StagePrompts  = "prompts"
	StageImages   = "images"
	StageClips    = "clips"
)

// Asset types.
const (
	AssetPrompt     = "PROMPT"
	AssetImageStart = "IMAGE_START"
	AssetImageEnd   = "IMAGE_END"
	AssetClip       = "CLIP"
)

// Asset roles.
const (
	RoleStartRef  = "start_ref"
	RoleEndRef    = "end_ref"
	RoleFinalClip = "final_clip"
)

// RunStatus is the server-authoritative stage record for one run version.
type RunStatus struct {
	CurrentStage    string `json:"current_stage"`
	StageStatus     string `json:"stage_status"`
	ProgressCurrent *int   `json:"progress_current,omitempty"`
	ProgressTotal   *int   `json:"progress_total,omitempty"`
	ProgressMessage string `json:"progress_message,omitempty"`
	UpdatedAt       string `json:"updated_at,omitempty"`
}

// RunSummary is one entry of the run listing.
type RunSummary struct {
	RunID     string     `json:"run_id"`
	Version   int        `json:"version"`
	VideoID   string     `json:"video_id"`
	CreatedAt string     `json:"created_at"`
	Status    *RunStatus `json:"status,omitempty"`
}

// Asset is a raw asset record attached to a shot. Metadata is kept verbatim;
// the backend stores it as a JSON-encoded string.
type Asset struct {
	AssetID    string          `json:"asset_id"`
	ShotID     string          `json:"shot_id"`
	Type       string          `json:"type"`
	Role       string          `json:"role,omitempty"`
	Path       string          `json:"path,omitempty"`
	URL        string          `json:"url,omitempty"`
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  string          `json:"created_at,omitempty"`
	IsSelected bool            `json:"is_selected"`
}

// IsType reports whether the asset carries the given type, ignoring case.
func (a Asset) IsType(kind string) bool {
	return strings.EqualFold(strings.TrimSpace(a.Type), kind)
}

// Shot is a raw shot record. CameraConfig may arrive either as a structure or
// as a serialized JSON string.
type Shot struct {
	ShotID       string          `json:"shot_id"`
	RunID        string          `json:"run_id"`
	Version      int             `json:"version"`
	VideoID      string          `json:"video_id,omitempty"`
	ScriptText   string          `json:"script_text"`
	Intent       string          `json:"intent"`
	Metaphor     *string         `json:"metaphor,omitempty"`
	CameraConfig json.RawMessage `json:"camera_config,omitempty"`
	DurationS    *float64        `json:"duration_s,omitempty"`
	BeatStartS   *float64        `json:"beat_start_s,omitempty"`
	BeatEndS     *float64        `json:"beat_end_s,omitempty"`
	Status       string          `json:"status"`
	Assets       []Asset         `json:"assets"`
}

// Ack is the acknowledgement returned by create, execute, and generate calls.
// Fields not used by a given endpoint are left empty.
type Ack struct {
	Status  string `json:"status"`
	RunID   string `json:"run_id,omitempty"`
	ShotID  string `json:"shot_id,omitempty"`
	Stage   string `json:"stage,omitempty"`
	Version int    `json:"version,omitempty"`
	Message string `json:"message,omitempty"`
}

// Upload is one file attached to a run creation request.
type Upload struct {
	Filename string
	Content  []byte
}

// CreateRunRequest carries the multipart fields for POST /api/runs/create.
type CreateRunRequest struct {
	RunID      string
	VideoID    string
	Version    int
	Script     Upload
	StyleBible Upload
	Voiceover  Upload
}
