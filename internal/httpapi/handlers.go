package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/alnah/go-renderd"
)

// Response headers set on artifacts.
const (
	HeaderInstance = "X-Render-Instance"
	HeaderDuration = "X-Render-Duration-Ms"
)

type handler struct {
	renderer Renderer
	pool     PoolStatus
	maxBody  int64
	log      *zap.Logger
}

// render handles POST /render.
func (h *handler) render(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)

	var req RenderRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, decodeError(err))
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		writeError(w, trailingDataError(err))
		return
	}

	job := req.Job()
	if err := job.Validate(); err != nil {
		writeError(w, err)
		return
	}

	res, err := h.renderer.Execute(r.Context(), job)
	if err != nil {
		if renderd.KindOf(err) == renderd.KindInternal {
			h.log.Error("render failed",
				zap.String("request_id", RequestID(r.Context())),
				zap.Error(err))
		}
		writeError(w, err)
		return
	}

	hdr := w.Header()
	hdr.Set("Content-Type", res.ContentType)
	hdr.Set("Content-Length", strconv.Itoa(len(res.Data)))
	hdr.Set(HeaderInstance, res.InstanceID)
	hdr.Set(HeaderDuration, strconv.FormatInt(res.Duration.Milliseconds(), 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(res.Data); err != nil {
		h.log.Debug("writing artifact", zap.Error(err))
	}
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status string        `json:"status"` // ok, degraded, closed
	Pool   renderd.Stats `json:"pool"`
}

// health handles GET /health. The service is healthy while it can serve a
// lease now or launch a browser for one.
func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	s := h.pool.Stats()

	resp := HealthResponse{Status: "ok", Pool: s}
	status := http.StatusOK
	switch {
	case s.Closed:
		resp.Status = "closed"
		status = http.StatusServiceUnavailable
	case s.Ready == 0 && s.Busy == 0 && s.Starting == 0 && s.Total >= s.MaxSize:
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
