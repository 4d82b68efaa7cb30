package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	models "github.com/princesrivastav546-cell/pyhost/internal/db/models"
	"github.com/princesrivastav546-cell/pyhost/internal/stats"
	"github.com/princesrivastav546-cell/pyhost/internal/supervisor"
	"github.com/princesrivastav546-cell/pyhost/pkg/envfile"
	"github.com/princesrivastav546-cell/pyhost/pkg/source"
	"github.com/princesrivastav546-cell/pyhost/pkg/utils"
)

const (
	maxUploadBytes  = 512 << 20
	maxEnvBytes     = 1 << 20
	defaultLogLines = 100
	maxLogLines     = 2000
)

type appResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Owner      string    `json:"owner"`
	SourceKind string    `json:"source_kind,omitempty"`
	SourceRef  string    `json:"source_ref,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

type instanceResponse struct {
	ID         string `json:"id"`
	AppID      string `json:"app_id"`
	Pid        int    `json:"pid"`
	Port       int    `json:"port,omitempty"`
	PublicPort int    `json:"public_port,omitempty"`
	LogPath    string `json:"log_path"`
}

type buildResponse struct {
	ID        string `json:"id"`
	Status    string `json:"status"`
	EnvDigest string `json:"env_digest"`
	Cached    bool   `json:"cached"`
	BuildTime string `json:"build_time"`
}

func (s *Server) appView(app *models.App) appResponse {
	return appResponse{
		ID:         app.ID,
		Name:       app.Name,
		Owner:      app.Owner,
		SourceKind: app.SourceKind,
		SourceRef:  app.SourceRef,
		Status:     string(s.manager.StatusApp(app.ID)),
		CreatedAt:  app.CreatedAt,
	}
}

// appFromRequest loads the app addressed by the route and enforces
// ownership. Apps of other users are indistinguishable from missing ones.
func (s *Server) appFromRequest(w http.ResponseWriter, r *http.Request) (*models.App, bool) {
	app, err := models.GetAppByID(r.Context(), s.db, r.PathValue("id"))
	if models.IsNotFound(err) {
		respondError(w, http.StatusNotFound, "app not found")
		return nil, false
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return nil, false
	}

	user := userFrom(r.Context())
	if !user.Admin && app.Owner != user.Name {
		respondError(w, http.StatusNotFound, "app not found")
		return nil, false
	}

	return app, true
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("app")
	if name == "" {
		http.Error(w, "specify app", http.StatusBadRequest)
		return
	}

	app, err := models.GetAppByName(r.Context(), s.db, name)
	if err == nil && s.manager.StatusApp(app.ID) == supervisor.AppRunning {
		fmt.Fprintf(w, "%s is running\n", name)
		return
	}

	http.Error(w, fmt.Sprintf("%s is stopped", name), http.StatusNotFound)
}

type createAppRequest struct {
	Name       string `json:"name"`
	SourceKind string `json:"source_kind,omitempty"`
	SourceRef  string `json:"source_ref,omitempty"`
}

func (s *Server) handleCreateApp(w http.ResponseWriter, r *http.Request) {
	var req createAppRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !validAppName(req.Name) {
		respondError(w, http.StatusBadRequest, "name must be non empty letters, digits, '.', '-' or '_'")
		return
	}
	if req.SourceKind != "" {
		if err := validSourceKind(req.SourceKind); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if _, err := models.GetAppByName(r.Context(), s.db, req.Name); err == nil {
		respondError(w, http.StatusConflict, "an app with this name already exists")
		return
	}

	id, err := utils.NewUUID7()
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	app := &models.App{
		ID:         id,
		Name:       req.Name,
		Owner:      userFrom(r.Context()).Name,
		SourceKind: req.SourceKind,
		SourceRef:  req.SourceRef,
	}
	if err := models.UpsertApp(r.Context(), s.db, app); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.InfoContext(r.Context(), "app registered", "app", app.ID, "name", app.Name, "owner", app.Owner)

	respondJSON(w, http.StatusCreated, s.appView(app))
}

func (s *Server) handleListApps(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())

	var (
		apps []*models.App
		err  error
	)
	if user.Admin {
		apps, err = models.ListApps(r.Context(), s.db)
	} else {
		apps, err = models.ListAppsByOwner(r.Context(), s.db, user.Name)
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	views := make([]appResponse, 0, len(apps))
	for _, app := range apps {
		views = append(views, s.appView(app))
	}

	respondJSON(w, http.StatusOK, views)
}

func (s *Server) handleGetApp(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	respondJSON(w, http.StatusOK, s.appView(app))
}

func (s *Server) handleDeleteApp(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	if err := s.manager.RemoveApp(r.Context(), app.ID); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleUploadSource stores the request body as the app's source archive
// and points the app at it. The next build extracts it fresh.
func (s *Server) handleUploadSource(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	if err := os.MkdirAll(s.manager.AppDir(app.ID), 0o755); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	uploadPath := s.manager.UploadPath(app.ID)
	f, err := os.Create(uploadPath)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	_, err = io.Copy(f, http.MaxBytesReader(w, r.Body, maxUploadBytes))
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(uploadPath)
		respondError(w, http.StatusBadRequest, fmt.Sprintf("saving upload: %v", err))
		return
	}

	app.SourceKind = string(source.KindArchive)
	app.SourceRef = uploadPath
	if err := models.UpsertApp(r.Context(), s.db, app); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.logger.InfoContext(r.Context(), "source uploaded", "app", app.ID)

	w.WriteHeader(http.StatusNoContent)
}

// handleAppendEnv adds KEY=VALUE lines to the app's env file. Existing
// variables stay, the file is append only from the API's point of view.
func (s *Server) handleAppendEnv(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEnvBytes))
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := os.MkdirAll(s.manager.AppDir(app.ID), 0o755); err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if err := envfile.Append(s.manager.EnvFilePath(app.ID), string(body)); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleBuildApp(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	res, build, err := s.manager.BuildApp(r.Context(), app)
	if err != nil {
		respondStageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, buildResponse{
		ID:        build.ID,
		Status:    models.BuildSucceeded,
		EnvDigest: res.EnvDigest.String(),
		Cached:    res.Cached,
		BuildTime: res.BuildTime.String(),
	})
}

func (s *Server) handleListBuilds(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	builds, err := models.ListBuildsByAppID(r.Context(), s.db, app.ID)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, builds)
}

func (s *Server) handleStartApp(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	instance, err := s.manager.StartApp(r.Context(), app)
	if errors.Is(err, supervisor.ErrAppRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondStageError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, instanceResponse{
		ID:         instance.ID,
		AppID:      instance.AppID,
		Pid:        instance.Pid,
		Port:       instance.Port,
		PublicPort: instance.PublicPort,
		LogPath:    instance.LogPath,
	})
}

func (s *Server) handleStopApp(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	err := s.manager.StopApp(r.Context(), app.ID)
	if errors.Is(err, supervisor.ErrAppNotRunning) {
		respondError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{"status": string(supervisor.AppStopped)})
}

func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	app, ok := s.appFromRequest(w, r)
	if !ok {
		return
	}

	lines := defaultLogLines
	if v := r.URL.Query().Get("lines"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondError(w, http.StatusBadRequest, "lines must be a positive number")
			return
		}
		lines = min(n, maxLogLines)
	}

	tail, err := utils.LastLines(s.manager.LogPath(app.ID), lines)
	if errors.Is(err, os.ErrNotExist) {
		respondError(w, http.StatusNotFound, "app has no logs yet")
		return
	}
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, tail)
	if !strings.HasSuffix(tail, "\n") {
		_, _ = io.WriteString(w, "\n")
	}
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	snapshot, err := stats.Collect(r.Context(), s.manager.Instances())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

func validAppName(name string) bool {
	if name == "" || len(name) > 64 {
		return false
	}

	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.' || r == '-' || r == '_':
		default:
			return false
		}
	}

	return true
}

func validSourceKind(kind string) error {
	switch source.Kind(kind) {
	case source.KindDir, source.KindGit, source.KindFile, source.KindArchive:
		return nil
	}

	return fmt.Errorf("unknown source kind %q", kind)
}
