package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/article-tracker/internal/tracker"
)

type addArticleRequest struct {
	URL             string `json:"url"`
	IntervalSeconds int    `json:"interval_seconds"`
	Normalizer      string `json:"normalizer"`
}

type frequencyRequest struct {
	IntervalSeconds int `json:"interval_seconds"`
}

type historyResponse struct {
	Versions  []tracker.Version `json:"versions"`
	NextAfter *int              `json:"next_after"`
}

func (s *Server) addArticle(w http.ResponseWriter, r *http.Request) {
	var req addArticleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.URL == "" {
		s.writeError(w, http.StatusBadRequest, "url required")
		return
	}
	if req.IntervalSeconds < 0 {
		s.writeError(w, http.StatusBadRequest, "interval_seconds must not be negative")
		return
	}
	article, err := s.controller.AddArticle(r.Context(), req.URL, seconds(req.IntervalSeconds), req.Normalizer)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, article)
}

func (s *Server) listArticles(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"articles": s.controller.List()})
}

func (s *Server) getArticle(w http.ResponseWriter, r *http.Request) {
	article, err := s.controller.Get(chi.URLParam(r, "article_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, article)
}

func (s *Server) setFrequency(w http.ResponseWriter, r *http.Request) {
	var req frequencyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if req.IntervalSeconds <= 0 {
		s.writeError(w, http.StatusBadRequest, "interval_seconds must be positive")
		return
	}
	article, err := s.controller.SetFrequency(r.Context(), chi.URLParam(r, "article_id"), seconds(req.IntervalSeconds))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, article)
}

func (s *Server) triggerCrawl(w http.ResponseWriter, r *http.Request) {
	article, err := s.controller.TriggerNow(r.Context(), chi.URLParam(r, "article_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, article)
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.respondArticle(w, r, s.controller.Pause)
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.respondArticle(w, r, s.controller.Resume)
}

func (s *Server) respondArticle(
	w http.ResponseWriter,
	r *http.Request,
	op func(ctx context.Context, id string) (tracker.Article, error),
) {
	article, err := op(r.Context(), chi.URLParam(r, "article_id"))
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, article)
}

func (s *Server) latest(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "article_id")
	if _, err := s.controller.Get(id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	v, err := s.versions.Latest(r.Context(), id)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, v)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "article_id")
	if _, err := s.controller.Get(id); err != nil {
		s.writeDomainError(w, err)
		return
	}
	after, err := intQuery(r, "after")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, err := intQuery(r, "limit")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := tracker.Page{AfterSequence: after, Limit: limit}.Normalize()
	versions, err := s.versions.History(r.Context(), id, page)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	resp := historyResponse{Versions: versions}
	if len(versions) == page.Limit {
		next := versions[len(versions)-1].Sequence
		resp.NextAfter = &next
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		s.writeError(w, http.StatusBadRequest, "q required")
		return
	}
	versions, err := s.versions.Search(r.Context(), q)
	if err != nil {
		s.writeDomainError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) runDiscovery(w http.ResponseWriter, r *http.Request) {
	if s.opts.Discoverer == nil {
		s.writeError(w, http.StatusNotFound, "discovery is disabled")
		return
	}
	reqID := requestID(r.Context())
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), s.opts.DiscoveryTimeout)
	go func() {
		defer cancel()
		res, err := s.opts.Discoverer.RunOnce(ctx)
		if err != nil {
			s.logger.Error("discovery run failed", zap.String("request_id", reqID), zap.Error(err))
			return
		}
		s.logger.Info("discovery run completed", zap.String("request_id", reqID), zap.Int("added", res.Added))
	}()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "started", "request_id": reqID})
}

func intQuery(r *http.Request, key string) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
