package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/naskit/nasd/internal/engine"
	"github.com/naskit/nasd/internal/release"
	"github.com/naskit/nasd/internal/tasks"
	"github.com/naskit/nasd/pkg/api"
)

func (s *Server) listPlugins(w http.ResponseWriter, r *http.Request) {
	installed, err := s.engine.ListInstalled()
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	res := make([]api.PluginInfo, 0, len(installed))
	for _, p := range installed {
		res = append(res, api.PluginInfo{
			Name:        p.Name,
			DisplayName: p.DisplayName,
			Description: p.Description,
			Version:     p.Version,
			Tag:         p.Tag,
			RepoURL:     p.RepoURL,
			IsDriver:    p.IsDriver,
			HasSettings: p.HasSettings,
			Author:      p.Author,
			Homepage:    p.Homepage,
			Support:     p.Support,
			InstalledAt: p.InstalledAt,
			UpdatedAt:   p.UpdatedAt,
		})
	}
	s.writeJSON(w, res)
}

func (s *Server) checkUpdates(w http.ResponseWriter, r *http.Request) {
	forceRefresh := r.URL.Query().Get("refresh") == "1"
	statuses, err := s.engine.CheckUpdates(r.Context(), forceRefresh)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, statuses)
}

func (s *Server) listReleases(w http.ResponseWriter, r *http.Request) {
	repoURL := r.URL.Query().Get("repo")
	if repoURL == "" {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("repo query parameter is missing"))
		return
	}
	forceRefresh := r.URL.Query().Get("refresh") == "1"
	idx, err := s.engine.ListReleases(r.Context(), repoURL, forceRefresh)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}

	res := toAPIIndex(idx)
	s.setInCache(s.getCacheKeyFromRequest(r), res)
	s.writeJSON(w, res)
}

func toAPIIndex(idx *release.Index) *api.ReleaseIndex {
	res := &api.ReleaseIndex{
		Owner:     idx.Owner,
		Repo:      idx.Repo,
		FetchedAt: idx.FetchedAt,
		Releases:  make([]api.Release, 0, len(idx.Releases)),
	}
	for _, rel := range idx.Releases {
		res.Releases = append(res.Releases, api.Release{
			Tag:           rel.Tag,
			Name:          rel.Name,
			PublishedAt:   rel.PublishedAt,
			Prerelease:    rel.Prerelease,
			Latest:        rel.Latest,
			Architectures: rel.Architectures,
		})
	}
	return res
}

func (s *Server) installPlugin(w http.ResponseWriter, r *http.Request) {
	var req api.InstallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if err := engine.ValidateInstall(req.RepoURL, req.Tag); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, err)
		return
	}

	task := s.tasks.Submit(fmt.Sprintf("install %s@%s", req.RepoURL, req.Tag), func(ctx context.Context) error {
		return s.engine.Install(ctx, req.RepoURL, req.Tag)
	})
	s.requestLogger(r).Infof("accepted install of %s@%s as task %s", req.RepoURL, req.Tag, task.ID)
	s.writeAccepted(w, task.ID.String())
}

func (s *Server) updatePlugins(w http.ResponseWriter, r *http.Request) {
	var req api.UpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	var task *tasks.Task
	if req.Name == "" {
		task = s.tasks.Submit("update all plugins", func(ctx context.Context) error {
			return s.engine.UpdateAll(ctx)
		})
	} else {
		name := req.Name
		task = s.tasks.Submit(fmt.Sprintf("update %s", name), func(ctx context.Context) error {
			return s.engine.Update(ctx, name)
		})
	}
	s.requestLogger(r).Infof("accepted update as task %s", task.ID)
	s.writeAccepted(w, task.ID.String())
}

func (s *Server) uninstallPlugin(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "plugin")
	if pluginName == "" {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("plugin name is missing"))
		return
	}
	removed, err := s.engine.Uninstall(r.Context(), pluginName)
	if err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]any{"ok": true, "removed": removed})
}

func (s *Server) runPluginHook(w http.ResponseWriter, r *http.Request) {
	pluginName := chi.URLParam(r, "plugin")
	hookName := chi.URLParam(r, "hook")
	if pluginName == "" || hookName == "" {
		s.writeJSONError(w, r, http.StatusBadRequest, fmt.Errorf("plugin and hook names are required"))
		return
	}
	if err := s.engine.RunUserHook(r.Context(), pluginName, hookName); err != nil {
		s.writeEngineError(w, r, err)
		return
	}
	s.writeJSON(w, map[string]bool{"ok": true})
}

func (s *Server) writeAccepted(w http.ResponseWriter, operationID string) {
	s.setContentTypeJSON(w)
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, api.OperationAck{OperationID: operationID, Accepted: true})
}
