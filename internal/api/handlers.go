package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mattjoyce/symgate/internal/artifact"
	"github.com/mattjoyce/symgate/internal/auth"
	"github.com/mattjoyce/symgate/internal/cache"
	"github.com/mattjoyce/symgate/internal/semver"
)

const (
	// ifVersionExceedsHeader lets a client that already holds an older
	// format version ask for a 304 instead of a re-download.
	ifVersionExceedsHeader = "If-Version-Exceeds"

	// acceptRetryAfterHeader opts a client into the asynchronous handshake.
	acceptRetryAfterHeader = "Accept-Retry-After"

	contentTypeFormat = "application/vnd.ms-symcache; version=%s"

	// retryAfterSeconds is the hint returned with asynchronous 404s.
	retryAfterSeconds = 1
)

var (
	// minSupportedVersion gates out the pre-3.0.0 wire dialects this server
	// does not speak. Requests at or below it get a plain 404.
	minSupportedVersion = semver.MustParse("3.0.0")

	// asyncThresholdVersion: clients requesting formats strictly above it
	// are assumed to understand the Retry-After handshake.
	asyncThresholdVersion = semver.MustParse("3.1.0")
)

// handleSymbol implements GET /v{version}/{name}/{id}[/{age}].
func (s *Server) handleSymbol(w http.ResponseWriter, r *http.Request) {
	key, ok := s.parsePath(w, r)
	if !ok {
		return
	}

	if key.Version.LessOrEqual(minSupportedVersion) {
		s.writeError(w, http.StatusNotFound, "format version not supported")
		return
	}

	bound, ok := s.parseVersionBound(w, r, key.Version)
	if !ok {
		return
	}

	switch res := s.cache.Lookup(key); res.State {
	case cache.Positive:
		if bound != nil && res.Version.LessOrEqual(*bound) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		s.streamArtifact(w, r, res.Path, res.Version)
		return

	case cache.Negative:
		s.writeError(w, http.StatusNotFound, "artifact not available")
		return
	}

	// Miss. If the client already holds everything the transcoder could
	// produce, there is no point doing the work.
	if bound != nil && s.transcoder.Version().LessOrEqual(*bound) {
		w.WriteHeader(http.StatusNotModified)
		return
	}

	if s.asyncEligible(r, key.Version) {
		s.queue.Enqueue(key)
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
		s.writeError(w, http.StatusNotFound, "artifact not ready, retry later")
		return
	}

	// Older clients block until the transcode finishes.
	path, err := s.transcoder.TryTranscode(r.Context(), key)
	if err != nil {
		// Cancellation: the client is gone; let the transport see it.
		return
	}
	if path == "" {
		s.writeError(w, http.StatusNotFound, "artifact not available")
		return
	}
	s.streamArtifact(w, r, path, s.transcoder.Version())
}

// parsePath extracts and validates the artifact key from the URL. The age
// segment is optional and defaults to 1.
func (s *Server) parsePath(w http.ResponseWriter, r *http.Request) (artifact.Key, bool) {
	rawVersion := chi.URLParam(r, "version")
	if !strings.HasPrefix(rawVersion, "v") {
		s.writeError(w, http.StatusBadRequest, "version segment must look like v3.1.0")
		return artifact.Key{}, false
	}
	version, err := semver.Parse(strings.TrimPrefix(rawVersion, "v"))
	if err != nil || version.Prerelease != "" {
		s.writeError(w, http.StatusBadRequest, "version segment must look like v3.1.0")
		return artifact.Key{}, false
	}

	name := chi.URLParam(r, "name")
	if err := artifact.ValidateName(name); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return artifact.Key{}, false
	}

	guid, err := artifact.ParseGUID(chi.URLParam(r, "id"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return artifact.Key{}, false
	}

	age := uint64(1)
	if rawAge := chi.URLParam(r, "age"); rawAge != "" {
		age, err = strconv.ParseUint(rawAge, 10, 64)
		if err != nil || age > uint64(^uint32(0)) {
			s.writeError(w, http.StatusBadRequest, "age must be an unsigned 32-bit integer")
			return artifact.Key{}, false
		}
	}

	key, err := artifact.New(version, name, guid, uint32(age))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return artifact.Key{}, false
	}
	return key, true
}

// parseVersionBound validates the If-Version-Exceeds header. The returned
// bound is nil when the header is absent. The bound must be a well-formed
// version with non-zero major, strictly below the requested version.
func (s *Server) parseVersionBound(w http.ResponseWriter, r *http.Request, requested semver.Version) (*semver.Version, bool) {
	values := r.Header.Values(ifVersionExceedsHeader)
	if len(values) == 0 {
		return nil, true
	}
	if len(values) > 1 {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("at most one %s header is allowed", ifVersionExceedsHeader))
		return nil, false
	}

	bound, err := semver.Parse(strings.TrimSpace(values[0]))
	if err != nil {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("%s is not a valid version: %v", ifVersionExceedsHeader, err))
		return nil, false
	}
	if bound.Major == 0 {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("%s major version must be non-zero", ifVersionExceedsHeader))
		return nil, false
	}
	if !bound.Less(requested) {
		s.writeError(w, http.StatusBadRequest,
			fmt.Sprintf("%s must be strictly below the requested version", ifVersionExceedsHeader))
		return nil, false
	}
	return &bound, true
}

// asyncEligible reports whether the client can handle "not yet, retry":
// either it requested a format newer than the async threshold, or it opted
// in explicitly.
func (s *Server) asyncEligible(r *http.Request, requested semver.Version) bool {
	if asyncThresholdVersion.Less(requested) {
		return true
	}
	return strings.EqualFold(r.Header.Get(acceptRetryAfterHeader), "true")
}

// streamArtifact sends the artifact bytes with the format-version content
// type. A vanished file (pruned between lookup and open) degrades to 404.
func (s *Server) streamArtifact(w http.ResponseWriter, r *http.Request, path string, version semver.Version) {
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, http.StatusNotFound, "artifact not available")
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", fmt.Sprintf(contentTypeFormat, version))
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		s.logger.Debug("artifact stream interrupted", "path", path, "error", err)
	}
}

// handleHealthz handles GET /healthz (no auth).
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	queued, inFlight := s.queue.Depth()

	resp := HealthzResponse{
		Status:            "ok",
		UptimeSeconds:     int64(time.Since(s.startedAt).Seconds()),
		QueueDepth:        queued,
		PendingTranscodes: inFlight,
		TranscoderVersion: s.transcoder.Version().String(),
		ConfigHash:        s.config.ConfigHash,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// handleRecent handles GET /admin/recent?limit=n.
func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeError(w, http.StatusServiceUnavailable, "transcode history is not enabled")
		return
	}

	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			s.writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = parsed
	}

	attempts, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("query transcode history", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query transcode history")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(RecentResponse{Attempts: attempts})
}

// handleEvents handles GET /admin/events as a server-sent event stream.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		s.writeError(w, http.StatusServiceUnavailable, "event stream is not enabled")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ch, cancel := s.hub.Subscribe()
	defer cancel()

	// Replay the ring so a fresh client sees recent context.
	for _, ev := range s.hub.Recent() {
		writeSSE(w, ev.Type, ev)
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			writeSSE(w, ev.Type, ev)
			flusher.Flush()
		}
	}
}

func writeSSE(w io.Writer, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	_, _ = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
}

// authMiddleware guards the admin surface with the configured API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.config.APIKey == "" {
			s.writeError(w, http.StatusForbidden, "admin API is not enabled")
			return
		}

		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if !auth.Authenticate(token, s.config.APIKey) {
			s.writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
