package reconcile

// Asset is a renderable media asset of a shot.
type Asset struct {
	ID         string `json:"asset_id"`
	Type       string `json:"type"`
	Role       string `json:"role,omitempty"`
	URL        string `json:"url"`
	CreatedAt  string `json:"created_at,omitempty"`
	IsSelected bool   `json:"is_selected"`
}

// AIPlan is the planner's creative direction for a shot.
type AIPlan struct {
	Metaphor *string `json:"metaphor,omitempty"`
	Camera   *string `json:"camera,omitempty"`
}

// Prompts are the generation prompts derived from a shot's PROMPT assets.
type Prompts struct {
	ImageA *string `json:"image_a,omitempty"`
	ImageB *string `json:"image_b,omitempty"`
	Video  *string `json:"video,omitempty"`
}

// Shot is the view record of one shot.
type Shot struct {
	ID         string   `json:"shot_id"`
	RunID      string   `json:"run_id"`
	VideoID    string   `json:"video_id,omitempty"`
	ScriptText string   `json:"script_text"`
	Intent     string   `json:"intent"`
	DurationS  *float64 `json:"duration_s,omitempty"`
	BeatStartS *float64 `json:"beat_start_s,omitempty"`
	BeatEndS   *float64 `json:"beat_end_s,omitempty"`
	Status     string   `json:"status"`
	Assets     []Asset  `json:"assets"`
	AIPlan     *AIPlan  `json:"ai_plan,omitempty"`
	Prompts    *Prompts `json:"prompts,omitempty"`
}

// Media returns the shot's assets of the given type in arrival order.
func (s Shot) Media(kind string) []Asset {
	var out []Asset
	for _, asset := range s.Assets {
		if asset.Type == kind {
			out = append(out, asset)
		}
	}
	return out
}

// Latest returns the most recently arrived asset of the given type.
func (s Shot) Latest(kind string) (Asset, bool) {
	for i := len(s.Assets) - 1; i >= 0; i-- {
		if s.Assets[i].Type == kind {
			return s.Assets[i], true
		}
	}
	return Asset{}, false
}
