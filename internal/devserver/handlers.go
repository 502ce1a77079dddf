package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"reelflow/internal/logging"
	"reelflow/internal/services/backend"
)

const maxUploadBytes = 64 << 20

var validID = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

// stagedFiles maps form fields to the names they are stored under.
var stagedFiles = []struct {
	field string
	name  string
}{
	{"script", "script.txt"},
	{"style_bible", "style_bible.md"},
	{"voiceover", "voiceover.mp3"},
}

// Handler returns the HTTP API.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer, s.requestLogger)

	r.Get("/", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/runs", s.listRuns)
		r.Post("/runs/create", s.createRun)
		r.Route("/runs/{runID}", func(r chi.Router) {
			r.Get("/status", s.runStatus)
			r.Post("/stages/{stage}/execute", s.executeStage)
			r.Get("/shots", s.listShots)
			r.Get("/shots/{shotID}", s.getShot)
			r.Post("/shots/{shotID}/generate-images", s.generateImages)
			r.Post("/shots/{shotID}/generate-clips", s.generateClips)
		})
		r.Get("/assets/{assetID}/file", s.assetFile)
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			logging.String("method", r.Method),
			logging.String("path", r.URL.Path),
			logging.Int("status", ww.Status()),
			logging.Duration("elapsed", time.Since(start)),
			logging.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (s *Server) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "reelflow devserver"})
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	runs, err := s.store.ListRuns(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) createRun(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart form: "+err.Error())
		return
	}
	runID := strings.TrimSpace(r.FormValue("run_id"))
	videoID := strings.TrimSpace(r.FormValue("video_id"))
	if !validID.MatchString(runID) {
		writeError(w, http.StatusUnprocessableEntity, "run_id is missing or invalid")
		return
	}
	if !validID.MatchString(videoID) {
		writeError(w, http.StatusUnprocessableEntity, "video_id is missing or invalid")
		return
	}
	version := 1
	if raw := strings.TrimSpace(r.FormValue("version")); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusUnprocessableEntity, "version must be a positive integer")
			return
		}
		version = parsed
	}

	exists, err := s.store.RunExists(r.Context(), runID, version)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if exists {
		writeError(w, http.StatusConflict, fmt.Sprintf("run %s v%d already exists", runID, version))
		return
	}

	staging := filepath.Join(s.runDir(runID, version), "staging")
	if err := os.MkdirAll(staging, 0o755); err != nil {
		s.internalError(w, err)
		return
	}
	for _, item := range stagedFiles {
		file, _, err := r.FormFile(item.field)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, item.field+" upload is required")
			return
		}
		err = saveUpload(file, filepath.Join(staging, item.name))
		_ = file.Close()
		if err != nil {
			s.internalError(w, err)
			return
		}
	}

	if err := s.store.CreateRun(r.Context(), runID, version, videoID); err != nil {
		if errors.Is(err, ErrConflict) {
			writeError(w, http.StatusConflict, err.Error())
			return
		}
		s.internalError(w, err)
		return
	}
	s.logger.Info("run created",
		logging.String(logging.FieldRunID, runID),
		logging.Int("version", version),
		logging.String("video_id", videoID))
	writeJSON(w, http.StatusOK, backend.Ack{Status: "created", RunID: runID, Version: version})
}

func (s *Server) runStatus(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	status, err := s.store.Status(r.Context(), chi.URLParam(r, "runID"), version)
	if err != nil {
		s.storeError(w, err, "Run status not found")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (s *Server) listShots(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	shots, err := s.store.Shots(r.Context(), chi.URLParam(r, "runID"), version)
	if err != nil {
		s.internalError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, shots)
}

func (s *Server) getShot(w http.ResponseWriter, r *http.Request) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	shot, err := s.store.Shot(r.Context(), chi.URLParam(r, "runID"), version, chi.URLParam(r, "shotID"))
	if err != nil {
		s.storeError(w, err, "Shot not found")
		return
	}
	writeJSON(w, http.StatusOK, shot)
}

type executeRequest struct {
	Version int    `json:"version"`
	VideoID string `json:"video_id"`
}

func (s *Server) executeStage(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	stage := strings.ToLower(chi.URLParam(r, "stage"))
	if _, known := stageWork[stage]; !known {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown stage %q", stage))
		return
	}

	req := executeRequest{Version: 1}
	if r.Body != nil {
		if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return
		}
	}
	if req.Version < 1 {
		req.Version = 1
	}

	exists, err := s.store.RunExists(r.Context(), runID, req.Version)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if !exists {
		writeError(w, http.StatusNotFound, "Run not found")
		return
	}
	if current, ok := s.claim(runID, req.Version, stage); !ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("stage %s is already running", current))
		return
	}
	// Record the stage before acknowledging so the first poll sees it.
	if err := s.store.SetStatus(r.Context(), runID, req.Version, StatusUpdate{Stage: stage, Status: "running"}); err != nil {
		s.release(runID, req.Version)
		s.internalError(w, err)
		return
	}
	started := s.spawn(func(ctx context.Context) {
		defer s.release(runID, req.Version)
		s.runStage(ctx, runID, req.Version, stage)
	})
	if !started {
		s.release(runID, req.Version)
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, backend.Ack{Status: "running", Stage: stage})
}

func (s *Server) generateImages(w http.ResponseWriter, r *http.Request) {
	s.generate(w, r, jobImages)
}

func (s *Server) generateClips(w http.ResponseWriter, r *http.Request) {
	s.generate(w, r, jobClip)
}

func (s *Server) generate(w http.ResponseWriter, r *http.Request, kind jobKind) {
	version, ok := versionParam(w, r)
	if !ok {
		return
	}
	runID := chi.URLParam(r, "runID")
	shotID := chi.URLParam(r, "shotID")
	if _, err := s.store.Shot(r.Context(), runID, version, shotID); err != nil {
		s.storeError(w, err, "Shot not found")
		return
	}
	started := s.spawn(func(ctx context.Context) {
		s.runShotJob(ctx, runID, version, shotID, kind)
	})
	if !started {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down")
		return
	}
	writeJSON(w, http.StatusOK, backend.Ack{
		Status:  "success",
		ShotID:  shotID,
		Message: fmt.Sprintf("%s generation started for %s", kind.label(), shotID),
	})
}

func (s *Server) assetFile(w http.ResponseWriter, r *http.Request) {
	asset, err := s.store.Asset(r.Context(), chi.URLParam(r, "assetID"))
	if err != nil {
		s.storeError(w, err, "Asset not found")
		return
	}
	if asset.Path == "" {
		writeError(w, http.StatusNotFound, "File not found on disk")
		return
	}
	if _, err := os.Stat(asset.Path); err != nil {
		writeError(w, http.StatusNotFound, "File not found on disk")
		return
	}
	http.ServeFile(w, r, asset.Path)
}

func versionParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("version"))
	if raw == "" {
		return 1, true
	}
	version, err := strconv.Atoi(raw)
	if err != nil || version < 1 {
		writeError(w, http.StatusUnprocessableEntity, "version must be a positive integer")
		return 0, false
	}
	return version, true
}

func saveUpload(src io.Reader, path string) error {
	dst, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := io.Copy(dst, src); err != nil {
		_ = dst.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return dst.Close()
}

func (s *Server) storeError(w http.ResponseWriter, err error, notFound string) {
	if errors.Is(err, ErrNotFound) {
		writeError(w, http.StatusNotFound, notFound)
		return
	}
	s.internalError(w, err)
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.logger.Error("request failed", logging.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}
