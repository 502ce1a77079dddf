package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"reelflow/internal/config"
)

const (
	userAgent          = "reelflow/0.1.0"
	defaultHTTPTimeout = 30 * time.Second
	maxErrorBody       = 2048
)

// HTTPDoer describes the HTTP client used by the backend client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config captures the connection settings for the backend API.
type Config struct {
	BaseURL string
	Version int
	VideoID string
	Timeout time.Duration
}

// Client wraps the pipeline backend REST API.
type Client struct {
	baseURL string
	version int
	videoID string
	http    HTTPDoer
}

// Option customizes the client.
type Option func(*Client)

// WithHTTPClient overrides the default HTTP client.
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) {
		if doer != nil {
			c.http = doer
		}
	}
}

// NewClient constructs a backend client.
func NewClient(cfg Config, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultHTTPTimeout
	}
	client := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		version: cfg.Version,
		videoID: strings.TrimSpace(cfg.VideoID),
		http:    &http.Client{Timeout: timeout},
	}
	if client.version < 1 {
		client.version = 1
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// NewFromConfig builds a client from application configuration.
func NewFromConfig(cfg *config.Config, opts ...Option) *Client {
	if cfg == nil {
		defaults := config.Default()
		cfg = &defaults
	}
	return NewClient(Config{
		BaseURL: cfg.Backend.BaseURL,
		Version: cfg.Backend.Version,
		VideoID: cfg.Backend.VideoID,
		Timeout: cfg.RequestTimeout(),
	}, opts...)
}

// Version returns the run version used for every request.
func (c *Client) Version() int { return c.version }

// VideoID returns the default video identifier.
func (c *Client) VideoID() string { return c.videoID }

// BaseURL returns the normalized API root.
func (c *Client) BaseURL() string { return c.baseURL }

// ListRuns fetches every run summary, newest first.
func (c *Client) ListRuns(ctx context.Context) ([]RunSummary, error) {
	var runs []RunSummary
	if err := c.getJSON(ctx, "/api/runs", nil, &runs); err != nil {
		return nil, err
	}
	return runs, nil
}

// RunStatus fetches the current stage record for a run.
func (c *Client) RunStatus(ctx context.Context, runID string) (RunStatus, error) {
	var status RunStatus
	err := c.getJSON(ctx, "/api/runs/"+url.PathEscape(runID)+"/status", c.versionQuery(), &status)
	return status, err
}

// Shots fetches the shot tree (shots with their assets) for a run.
func (c *Client) Shots(ctx context.Context, runID string) ([]Shot, error) {
	var shots []Shot
	if err := c.getJSON(ctx, "/api/runs/"+url.PathEscape(runID)+"/shots", c.versionQuery(), &shots); err != nil {
		return nil, err
	}
	return shots, nil
}

// Shot fetches a single shot with its assets.
func (c *Client) Shot(ctx context.Context, runID, shotID string) (Shot, error) {
	var shot Shot
	path := "/api/runs/" + url.PathEscape(runID) + "/shots/" + url.PathEscape(shotID)
	err := c.getJSON(ctx, path, c.versionQuery(), &shot)
	return shot, err
}

// CreateRun uploads the source materials and registers a new run.
func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (Ack, error) {
	var ack Ack
	if strings.TrimSpace(req.RunID) == "" {
		return ack, errors.New("create run: run id required")
	}
	videoID := strings.TrimSpace(req.VideoID)
	if videoID == "" {
		videoID = c.videoID
	}
	version := req.Version
	if version < 1 {
		version = c.version
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	fields := [][2]string{
		{"run_id", req.RunID},
		{"video_id", videoID},
		{"version", strconv.Itoa(version)},
	}
	for _, field := range fields {
		if err := writer.WriteField(field[0], field[1]); err != nil {
			return ack, fmt.Errorf("create run: write field %s: %w", field[0], err)
		}
	}
	uploads := []struct {
		field    string
		fallback string
		upload   Upload
	}{
		{"script", "script.txt", req.Script},
		{"style_bible", "style_bible.md", req.StyleBible},
		{"voiceover", "voiceover.mp3", req.Voiceover},
	}
	for _, item := range uploads {
		name := strings.TrimSpace(item.upload.Filename)
		if name == "" {
			name = item.fallback
		}
		part, err := writer.CreateFormFile(item.field, name)
		if err != nil {
			return ack, fmt.Errorf("create run: attach %s: %w", item.field, err)
		}
		if _, err := part.Write(item.upload.Content); err != nil {
			return ack, fmt.Errorf("create run: write %s: %w", item.field, err)
		}
	}
	if err := writer.Close(); err != nil {
		return ack, fmt.Errorf("create run: finalize form: %w", err)
	}

	err := c.do(ctx, http.MethodPost, "/api/runs/create", nil, &body, writer.FormDataContentType(), &ack)
	return ack, err
}

// ExecuteStage asks the backend to start a pipeline stage for a run. An empty
// videoID uses the client default.
func (c *Client) ExecuteStage(ctx context.Context, runID, stage, videoID string) (Ack, error) {
	var ack Ack
	stage = strings.ToLower(strings.TrimSpace(stage))
	switch stage {
	case StagePlanning, StagePrompts, StageImages, StageClips:
	default:
		return ack, fmt.Errorf("execute stage: unsupported stage %q", stage)
	}
	payload, err := json.Marshal(map[string]any{"version": c.version, "video_id": c.videoOr(videoID)})
	if err != nil {
		return ack, fmt.Errorf("execute stage: encode body: %w", err)
	}
	path := "/api/runs/" + url.PathEscape(runID) + "/stages/" + stage + "/execute"
	err = c.do(ctx, http.MethodPost, path, nil, bytes.NewReader(payload), "application/json", &ack)
	return ack, err
}

// GenerateImages submits a start/end image generation job for one shot.
func (c *Client) GenerateImages(ctx context.Context, runID, shotID, videoID string) (Ack, error) {
	return c.generate(ctx, runID, shotID, videoID, "generate-images")
}

// GenerateClip submits a clip generation job for one shot.
func (c *Client) GenerateClip(ctx context.Context, runID, shotID, videoID string) (Ack, error) {
	return c.generate(ctx, runID, shotID, videoID, "generate-clips")
}

// AssetURL returns an absolute URL for an asset reference. Relative references
// are resolved against the API root; an empty reference yields the synthesized
// file endpoint for assetID.
func (c *Client) AssetURL(assetID, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		ref = "/api/assets/" + url.PathEscape(assetID) + "/file"
	}
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return ref
	}
	if !strings.HasPrefix(ref, "/") {
		ref = "/" + ref
	}
	return c.baseURL + ref
}

func (c *Client) generate(ctx context.Context, runID, shotID, videoID, action string) (Ack, error) {
	var ack Ack
	query := c.versionQuery()
	query.Set("video_id", c.videoOr(videoID))
	path := "/api/runs/" + url.PathEscape(runID) + "/shots/" + url.PathEscape(shotID) + "/" + action
	err := c.do(ctx, http.MethodPost, path, query, nil, "", &ack)
	return ack, err
}

func (c *Client) videoOr(videoID string) string {
	if v := strings.TrimSpace(videoID); v != "" {
		return v
	}
	return c.videoID
}

func (c *Client) versionQuery() url.Values {
	query := url.Values{}
	query.Set("version", strconv.Itoa(c.version))
	return query
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, "", out)
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	if c == nil || c.http == nil {
		return errors.New("backend client not configured")
	}
	endpoint := c.baseURL + path
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return fmt.Errorf("build %s %s request: %w", method, path, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("backend %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &StatusError{Method: method, Path: path, StatusCode: resp.StatusCode, Body: string(snippet)}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}
