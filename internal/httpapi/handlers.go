package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"orchestd/internal/settings"
	"orchestd/pkg/types"
)

type handlers struct {
	svc Service
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Err(err).Msg("encode_response")
	}
}

// decodeJSONBody enforces the content type and body limit and decodes into v.
func decodeJSONBody(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		// Oversized bodies also land here; keep the message generic.
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// runners godoc
// @Summary      List runners
// @Description  Registered runners with their hardware compatibility and the current selection per capability.
// @Tags         runners
// @Produce      json
// @Success      200  {object}  types.RunnersResponse
// @Router       /runners [get]
func (h *handlers) runners(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Runners())
}

// unloadRunner godoc
// @Summary      Unload a runner
// @Description  Drains and unloads every instance of the named runner.
// @Tags         runners
// @Produce      json
// @Param        name  path  string  true  "Runner name"
// @Success      200  {object}  map[string]string
// @Failure      404  {object}  types.ErrorResponse
// @Router       /runners/{name}/unload [post]
func (h *handlers) unloadRunner(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := h.svc.UnloadRunner(r.Context(), name); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"runner": name, "state": "unloaded"})
}

// models godoc
// @Summary      List models
// @Description  Models known from the catalog and the models directory.
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Models(r.Context()))
}

// status godoc
// @Summary      Engine status
// @Description  Loaded instances, memory accounting and load counters.
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status(r.Context()))
}

// getSettings godoc
// @Summary      Current settings
// @Tags         settings
// @Produce      json
// @Success      200  {object}  settings.EngineSettings
// @Router       /settings [get]
func (h *handlers) getSettings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.CurrentSettings())
}

// putSettings godoc
// @Summary      Replace settings
// @Description  Replaces the engine settings. Requests already dispatched keep their snapshot.
// @Tags         settings
// @Accept       json
// @Produce      json
// @Param        settings  body  settings.EngineSettings  true  "New settings"
// @Success      200  {object}  settings.EngineSettings
// @Failure      400  {object}  types.ErrorResponse
// @Failure      415  {object}  types.ErrorResponse
// @Router       /settings [put]
func (h *handlers) putSettings(w http.ResponseWriter, r *http.Request) {
	var next settings.EngineSettings
	if !decodeJSONBody(w, r, &next) {
		return
	}
	applied, err := h.svc.UpdateSettings(next)
	if err != nil {
		if types.KindOf(err) == "" {
			err = types.Errorf(types.KindInvalidInput, err, "invalid settings")
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, applied)
}

// infer godoc
// @Summary      Run inference
// @Description  Runs a request against the runner selected for the capability. With stream=true the response is NDJSON, one InferResponse per line, the last one with done=true.
// @Tags         inference
// @Accept       json
// @Produce      json
// @Produce      application/x-ndjson
// @Param        capability  path  string              true  "Capability"  Enums(llm, asr, tts, vlm, guardian)
// @Param        request     body  types.InferRequest  true  "Inference request"
// @Success      200  {object}  types.InferResponse
// @Failure      400  {object}  types.ErrorResponse
// @Failure      404  {object}  types.ErrorResponse
// @Failure      415  {object}  types.ErrorResponse
// @Failure      429  {object}  types.ErrorResponse
// @Failure      451  {object}  types.ErrorResponse
// @Failure      500  {object}  types.ErrorResponse
// @Failure      501  {object}  types.ErrorResponse
// @Failure      502  {object}  types.ErrorResponse
// @Failure      507  {object}  types.ErrorResponse
// @Router       /infer/{capability} [post]
func (h *handlers) infer(w http.ResponseWriter, r *http.Request) {
	capability, err := types.ParseCapability(chi.URLParam(r, "capability"))
	if err != nil {
		writeError(w, types.Errorf(types.KindInvalidInput, err, "bad capability"))
		return
	}
	var body types.InferRequest
	if !decodeJSONBody(w, r, &body) {
		return
	}
	req := body.ToRequest()

	lvl := requestLogLevel(r)
	log := zlog.With().Str("capability", string(capability)).Str("session_id", req.SessionID).Logger()
	if rid := middleware.GetReqID(r.Context()); rid != "" {
		log = log.With().Str("request_id", rid).Logger()
	}
	start := time.Now()
	if lvl >= LevelInfo {
		log.Info().Bool("stream", req.Stream).Msg("infer start")
	}

	// Join server base context with request context so shutdown cancels work too.
	ctx, cancel := joinContexts(r.Context(), serverBaseCtx)
	defer cancel()
	if inferTimeout > 0 {
		var tcancel context.CancelFunc
		ctx, tcancel = context.WithTimeout(ctx, inferTimeout)
		defer tcancel()
	}

	status := http.StatusOK
	if req.Stream {
		status, err = h.stream(ctx, w, capability, req, lvl, log)
	} else {
		var res types.InferenceResult
		res, err = h.svc.Infer(ctx, capability, req)
		if err == nil {
			writeJSON(w, http.StatusOK, types.NewInferResponse(res))
		}
	}
	if err != nil {
		// Client went away or the server is stopping; nobody to answer.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		if status == http.StatusOK {
			status = writeError(w, err)
		}
	}
	endInferLog(log, lvl, status, start, err)
}

// stream writes NDJSON lines as chunks arrive. Errors before the first line
// get a regular status code; later errors, including ctx expiry, arrive as
// the final line.
func (h *handlers) stream(ctx context.Context, w http.ResponseWriter, c types.Capability, req types.InferenceRequest, lvl LogLevel, log zerolog.Logger) (int, error) {
	ch, err := h.svc.InferStream(ctx, c, req)
	if err != nil {
		return http.StatusOK, err
	}
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	var out io.Writer = w
	if lvl >= LevelDebug {
		out = io.MultiWriter(w, &loggingLineWriter{log: log})
	}
	enc := json.NewEncoder(out)
	rc := http.NewResponseController(w)
	var (
		last error
		done bool
	)
	for chunk := range ch {
		resp := types.NewInferResponse(chunk)
		resp.Done = !resp.Partial
		done = done || resp.Done
		if chunk.Err != nil {
			last = chunk.Err
		}
		if err := enc.Encode(resp); err != nil {
			// Keep draining so the producer can finish.
			last = err
			continue
		}
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			last = err
		}
	}
	if !done && last == nil && ctx.Err() != nil {
		// The producer stops silently on ctx; close the stream for the client.
		last = types.Errorf(types.KindRuntime, ctx.Err(), "stream interrupted")
		resp := types.InferResponse{Error: types.NewErrorResponse(last), Done: true}
		if err := enc.Encode(resp); err == nil {
			_ = rc.Flush()
		}
	}
	if last != nil {
		return types.NewErrorResponse(last).Code, last
	}
	return http.StatusOK, nil
}

func endInferLog(log zerolog.Logger, lvl LogLevel, status int, start time.Time, err error) {
	if lvl < LevelInfo && !(lvl >= LevelError && err != nil) {
		return
	}
	ev := log.Info()
	if err != nil {
		ev = log.Error().Err(err)
	}
	ev.Int("status", status).Dur("dur", time.Since(start)).Msg("infer end")
}
