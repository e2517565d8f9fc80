package server

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/PentesterFlow/SiteAudit/internal/errors"
	"github.com/PentesterFlow/SiteAudit/internal/logger"
	"github.com/PentesterFlow/SiteAudit/internal/minify"
	"github.com/PentesterFlow/SiteAudit/internal/progress"
	"github.com/PentesterFlow/SiteAudit/internal/scope"
	"github.com/PentesterFlow/SiteAudit/internal/state"
	"github.com/PentesterFlow/SiteAudit/pkg/crawler"
)

const defaultReportLimit = 50

// seedFrom validates a requested scan URL and returns the message for a
// 400 response when it is unusable.
func seedFrom(raw string) (string, string) {
	if strings.TrimSpace(raw) == "" {
		return "", "url is required"
	}
	seed, err := scope.ValidateSeed(raw)
	if err != nil {
		var auditErr *errors.AuditError
		if stderrors.As(err, &auditErr) {
			return "", "invalid url: " + auditErr.Message
		}
		return "", "invalid url"
	}
	return seed, ""
}

// Scans

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var body AnalyzeRequest
	if err := decodeJSON(w, r, &body); err != nil {
		s.logger.WithError(err).Warn("Decoding analyze body")
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	seed, msg := seedFrom(body.URL)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	log := s.logger.WithURL(seed)
	stream := progress.NewStream(progress.NewSSESink(w), log)
	s.runScan(r.Context(), seed, stream, log)
}

func (s *Server) handleAnalyzeWS(w http.ResponseWriter, r *http.Request) {
	seed, msg := seedFrom(r.URL.Query().Get("url"))
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Upgrading to websocket")
		return
	}

	// A hijacked connection does not cancel r.Context on disconnect, so
	// watch the read side instead.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	log := s.logger.WithURL(seed)
	stream := progress.NewStream(progress.NewWebSocketSink(conn), log)
	s.runScan(ctx, seed, stream, log)
}

// runScan drives one scan into stream and always ends it with exactly one
// terminal frame.
func (s *Server) runScan(ctx context.Context, seed string, stream *progress.Stream, log *logger.Logger) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("panic", fmt.Sprint(r)).Error("Scan panicked")
			if terr := stream.TerminateError(fmt.Errorf("internal error: %v", r)); terr != nil {
				log.WithError(terr).Debug("Terminal error frame not delivered")
			}
		}
	}()

	obs := crawler.ObserverFunc(func(stats crawler.ScanStats) {
		if err := stream.Progress(stats); err != nil {
			log.WithError(err).Debug("Progress frame not delivered")
		}
	})

	result, err := s.scanner.Scan(ctx, seed, obs)
	if err != nil {
		log.WithError(err).Error("Scan failed")
		if terr := stream.TerminateError(err); terr != nil {
			log.WithError(terr).Debug("Terminal error frame not delivered")
		}
		return
	}

	id := state.NewReportID()
	frame, err := progress.Terminal(result.First(), result.Stats, id)
	if err != nil {
		log.WithError(err).Error("Building terminal frame")
		_ = stream.TerminateError(err)
		return
	}

	if err := s.saveReport(id, seed, result, frame); err != nil {
		log.WithError(err).Warn("Storing report")
		delete(frame, "id")
	} else {
		result.ID = id
	}

	if err := stream.TerminateResult(frame); err != nil {
		log.WithError(err).Debug("Terminal frame not delivered")
	}
}

// saveReport stores the terminal frame plus every audited page.
func (s *Server) saveReport(id, seed string, result *crawler.ScanResult, frame map[string]interface{}) error {
	stored := make(map[string]interface{}, len(frame)+1)
	for k, v := range frame {
		stored[k] = v
	}
	stored["pages"] = result.Results

	payload, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	return s.store.Save(&state.StoredReport{
		ID:           id,
		URL:          seed,
		CreatedAt:    result.CompletedAt.UTC(),
		PagesScanned: result.Stats.PagesScanned,
		TotalPages:   result.Stats.TotalPages,
		Payload:      payload,
	})
}

// Reports

func (s *Server) handleListReports(w http.ResponseWriter, r *http.Request) {
	limit := defaultReportLimit
	if ls := r.URL.Query().Get("limit"); ls != "" {
		if v, err := strconv.Atoi(ls); err == nil && v > 0 {
			limit = v
		}
	}

	reports, err := s.store.List(limit)
	if err != nil {
		s.logger.WithError(err).Warn("Listing reports")
		writeError(w, http.StatusInternalServerError, "failed to list reports")
		return
	}
	writeJSON(w, http.StatusOK, reports)
}

func (s *Server) handleGetReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	report, err := s.store.Load(id)
	if stderrors.Is(err, errors.ErrReportNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("id", id).Warn("Loading report")
		writeError(w, http.StatusInternalServerError, "failed to load report")
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleDeleteReport(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	err := s.store.Delete(id)
	if stderrors.Is(err, errors.ErrReportNotFound) {
		writeError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		s.logger.WithError(err).WithField("id", id).Warn("Deleting report")
		writeError(w, http.StatusInternalServerError, "failed to delete report")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Minify

func (s *Server) handleMinify(w http.ResponseWriter, r *http.Request) {
	var body MinifyRequest
	if err := decodeJSON(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	if len(body.Files) > 0 {
		s.minifyBatch(w, r, body.Files)
		return
	}

	if body.Code == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res, err := s.minifier.Minify(body.Type, body.Code)
	switch {
	case stderrors.Is(err, minify.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, MinifyResponse{
		Minified:     res.Minified,
		OriginalSize: res.OriginalSize,
		MinifiedSize: res.MinifiedSize,
		Savings:      res.Savings,
	})
}

func (s *Server) minifyBatch(w http.ResponseWriter, r *http.Request, files []minify.File) {
	results, err := s.minifier.MinifyBatch(r.Context(), files)
	if stderrors.Is(err, minify.ErrUnsupportedType) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := MinifyBatchResponse{Files: results}
	for _, res := range results {
		resp.OriginalSize += res.OriginalSize
		resp.MinifiedSize += res.MinifiedSize
	}
	resp.Savings = minify.Savings(resp.OriginalSize, resp.MinifiedSize)
	writeJSON(w, http.StatusOK, resp)
}

// Health

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:      "ok",
		Uptime:      time.Since(s.started).Round(time.Second).String(),
		ActiveScans: s.metrics.Snapshot().ActiveScans,
	})
}
