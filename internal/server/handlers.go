package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"data-intelligence/internal/adapter"
	"data-intelligence/internal/anomaly"
	"data-intelligence/internal/command"
	"data-intelligence/internal/engine"
	"data-intelligence/internal/introspect"
	"data-intelligence/internal/neural"
	"data-intelligence/internal/registry"
	"data-intelligence/internal/renderer"
	"data-intelligence/internal/temporal"

	"github.com/go-chi/chi/v5"
)

// errorBody 错误响应
type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor 错误到 HTTP 状态码
func statusFor(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownHandle):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrInvalidArgument),
		errors.Is(err, adapter.ErrInvalidConfig),
		errors.Is(err, adapter.ErrUnsupportedDBType),
		errors.Is(err, neural.ErrNoNumericData),
		errors.Is(err, command.ErrBadParameter):
		return http.StatusBadRequest
	case errors.Is(err, temporal.ErrTemporalUnavailable):
		return http.StatusConflict
	case errors.Is(err, registry.ErrConnectTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, registry.ErrDriver), errors.Is(err, introspect.ErrIntrospection):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Errorw("请求失败", "path", r.URL.Path, "error", err)
	}
	writeJSONStatus(w, status, errorBody{Error: err.Error()})
}

// handleFrom 解析路径中的 {conn}
func handleFrom(r *http.Request) (registry.Handle, error) {
	return registry.ParseHandle(chi.URLParam(r, "conn"))
}

func intQuery(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Join(engine.ErrInvalidArgument, err)
	}
	return n, nil
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"status": "ok", "connections": len(a.svc.Connections())})
}

func (a *App) handleActions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.dispatcher.Actions())
}

func (a *App) handleListConnections(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.svc.Connections())
}

// openResponse 新建连接的响应
type openResponse struct {
	Handle       int64  `json:"handle"`
	ConnectionID string `json:"connection_id"`
}

func (a *App) handleOpenConnection(w http.ResponseWriter, r *http.Request) {
	var cfg adapter.ConnConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		a.fail(w, r, errors.Join(engine.ErrInvalidArgument, err))
		return
	}
	h, err := a.svc.OpenConnection(r.Context(), cfg)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSONStatus(w, http.StatusCreated, openResponse{Handle: int64(h), ConnectionID: h.String()})
}

func (a *App) handleCloseConnection(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if err := a.svc.CloseConnection(h); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleSchema(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	get := a.svc.GetSchema
	if r.URL.Query().Get("reload") == "true" {
		get = a.svc.ReloadSchema
	}
	s, err := get(r.Context(), h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, s)
}

func (a *App) handleClusterMethod(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var body struct {
		Method string `json:"method"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		a.fail(w, r, errors.Join(engine.ErrInvalidArgument, err))
		return
	}
	m, err := a.svc.SetClusterMethod(h, body.Method)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"method": m})
}

func (a *App) handleGraph(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	p, err := a.svc.GetGraph(h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, p)
}

func (a *App) handleMetrics(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	rep, err := a.svc.GetMetrics(r.Context(), h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, rep)
}

func (a *App) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	list, err := a.svc.Anomalies(h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, list)
}

func (a *App) handleThresholds(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var t anomaly.Thresholds
	if err := json.NewDecoder(r.Body).Decode(&t); err != nil {
		a.fail(w, r, errors.Join(engine.ErrInvalidArgument, err))
		return
	}
	if err := a.svc.SetThresholds(h, t); err != nil {
		a.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *App) handleEvolution(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	an, err := a.svc.AnalyzeEvolution(r.Context(), h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, an)
}

func (a *App) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	snap, err := a.svc.GetSnapshot(r.Context(), h, r.URL.Query().Get("at"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, snap)
}

func (a *App) handleKeyframes(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	steps, err := intQuery(r, "steps", command.DefaultEvolutionSteps)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	frames, err := a.svc.GetKeyframes(r.Context(), h, steps)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, frames)
}

func (a *App) handleRecalculate(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	st, err := a.svc.RecalculateGravity(h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"status": st})
}

func (a *App) handleRecordGravity(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	limit, err := intQuery(r, "limit", engine.DefaultRecordSample)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	scores, err := a.svc.RecordGravity(r.Context(), h, r.URL.Query().Get("table"), limit)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, scores)
}

func (a *App) handleRender(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "markdown"
	}
	rd, ok := renderer.New(format)
	if !ok {
		writeJSONStatus(w, http.StatusBadRequest, errorBody{Error: "不支持的格式: " + format})
		return
	}
	s, err := a.svc.GetSchema(r.Context(), h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	sess, err := a.svc.Session(h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	gravity, err := a.svc.Gravities(h)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(rd.Render(renderer.Input{
		Schema:   s,
		Clusters: sess.Clusters(),
		Gravity:  gravity,
	})))
}

func (a *App) handleCommand(w http.ResponseWriter, r *http.Request) {
	h, err := handleFrom(r)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	var cmd command.Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		a.fail(w, r, errors.Join(engine.ErrInvalidArgument, err))
		return
	}
	writeJSON(w, a.dispatcher.Dispatch(r.Context(), h, cmd))
}
