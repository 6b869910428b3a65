package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/user/note-enricher/internal/delivery/http/request"
	"github.com/user/note-enricher/internal/delivery/http/response"
	"github.com/user/note-enricher/internal/entity"
	"go.uber.org/zap"
)

const streamBuffer = 64

// Server-sent event names.
const (
	eventProgress  = "progress"
	eventCompleted = "completed"
	eventError     = "error"
)

// sseWriter frames events as text/event-stream and flushes after each one.
type sseWriter struct {
	w  http.ResponseWriter
	rc *http.ResponseController
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	rc := http.NewResponseController(w)
	// Extractions outlive the server write timeout.
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	_ = rc.Flush()
	return &sseWriter{w: w, rc: rc}
}

func (s *sseWriter) send(event string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "id: %s\nevent: %s\ndata: %s\n\n", uuid.NewString(), event, payload); err != nil {
		return err
	}
	return s.rc.Flush()
}

type extractResult struct {
	res *entity.ExtractionResult
	err error
}

// HandleExtractStream runs one extraction and streams its progress. The stream
// ends with a completed event carrying the result or an error event.
func (h *Handler) HandleExtractStream(w http.ResponseWriter, r *http.Request) {
	q, err := request.ParseExtractQuery(r.URL.Query())
	if err != nil {
		h.writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	opts := mergeOptions(h.defaults, q.Options)

	sse := newSSEWriter(w)
	emitter := entity.NewChannelEmitter(streamBuffer)

	// The extraction is not tied to the request: a client that goes away only stops the stream.
	done := make(chan extractResult, 1)
	go func() {
		res, err := h.extractor.Extract(context.WithoutCancel(r.Context()), q.URL, opts, emitter)
		emitter.Close()
		done <- extractResult{res: res, err: err}
	}()

	log := h.logger.With(zap.String("url", q.URL))
	events := emitter.Events()
	for events != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if err := sse.send(eventProgress, ev); err != nil {
				log.Debug("stream client gone", zap.Error(err))
				return
			}
		case <-r.Context().Done():
			log.Debug("stream client disconnected")
			return
		}
	}

	out := <-done
	if dropped := emitter.Dropped(); dropped > 0 {
		log.Debug("progress events dropped", zap.Int("dropped", dropped))
	}
	if out.err != nil {
		log.Warn("streamed extraction failed", zap.Error(out.err))
		_ = sse.send(eventError, response.StreamError{Message: out.err.Error()})
		return
	}
	_ = sse.send(eventCompleted, out.res)
}

// mergeOptions overlays request knobs on the server defaults.
func mergeOptions(base, req entity.ExtractionOptions) entity.ExtractionOptions {
	out := base
	if req.MaxCharacters > 0 {
		out.MaxCharacters = req.MaxCharacters
	}
	if req.Format != "" {
		out.Format = req.Format
	}
	if req.IncludeTimestamps {
		out.IncludeTimestamps = true
	}
	if req.EnableYouTube != nil {
		out.EnableYouTube = req.EnableYouTube
	}
	if req.EnablePodcast != nil {
		out.EnablePodcast = req.EnablePodcast
	}
	if req.EnableRescue != nil {
		out.EnableRescue = req.EnableRescue
	}
	if len(req.Strategies) > 0 {
		out.Strategies = req.Strategies
	}
	return out
}
