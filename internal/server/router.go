package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/loykin/siswrap/internal/process"
	"github.com/loykin/siswrap/internal/registry"
	"github.com/loykin/siswrap/internal/wrapper"
)

// Router provides embeddable HTTP handlers for launching and polling jobs.
// Endpoints:
//
//	GET  {basePath}                            API index
//	POST {basePath}/{variant}/run/{runfolder}  body: runRequest JSON
//	GET  {basePath}/{variant}/status/{pid}     status of one job; retires it once terminal
//	GET  {basePath}/{variant}/status           status of all jobs of the variant
//
// variant is qc (alias quality-control) or report. Every failure is answered
// with 500 and an error message.
type Router struct {
	reg      *registry.Registry
	settings process.Settings
	basePath string

	serviceVersion string
	versionTimeout time.Duration
	metricsPath    string
	metrics        http.Handler
	log            *slog.Logger
}

type Option func(*Router)

// WithServiceVersion is reported in every launch response.
func WithServiceVersion(v string) Option { return func(r *Router) { r.serviceVersion = v } }

// WithVersionProbe bounds the sisyphus version probe run on each launch.
// A zero timeout disables the probe.
func WithVersionProbe(timeout time.Duration) Option {
	return func(r *Router) { r.versionTimeout = timeout }
}

// WithMetrics serves h at path, outside the base path.
func WithMetrics(path string, h http.Handler) Option {
	return func(r *Router) {
		r.metricsPath = sanitizeBase(path)
		r.metrics = h
	}
}

func WithLogger(l *slog.Logger) Option { return func(r *Router) { r.log = l } }

// NewRouter constructs a Router serving reg under basePath.
func NewRouter(reg *registry.Registry, s process.Settings, basePath string, opts ...Option) *Router {
	r := &Router{
		reg:      reg,
		settings: s,
		basePath: sanitizeBase(basePath),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// BasePath is the sanitized mount point of the API.
func (r *Router) BasePath() string { return r.basePath }

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery(), requestLogger(r.log))
	if r.metrics != nil && r.metricsPath != "" {
		g.GET(r.metricsPath, gin.WrapH(r.metrics))
	}
	group := g.Group(r.basePath)
	group.GET("", r.handleIndex)
	group.POST("/:variant/run", r.handleRun)
	group.POST("/:variant/run/:runfolder", r.handleRun)
	group.GET("/:variant/status", r.handleStatusAll)
	group.GET("/:variant/status/:pid", r.handleStatus)
	g.NoRoute(func(c *gin.Context) {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: "unrecognized route " + c.Request.URL.Path})
	})
	return g
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type runRequest struct {
	Target string `json:"target"`
	// Runfolder is the legacy name of Target.
	Runfolder      string  `json:"runfolder"`
	QCConfig       *string `json:"qc_config"`
	SisyphusConfig *string `json:"sisyphus_config"`
}

type runResponse struct {
	PID             int           `json:"pid"`
	State           process.State `json:"state"`
	Host            string        `json:"host"`
	TargetPath      string        `json:"target_path"`
	Link            string        `json:"link"`
	Msg             string        `json:"msg"`
	ServiceVersion  string        `json:"service_version,omitempty"`
	SisyphusVersion string        `json:"sisyphus_version,omitempty"`
}

type statusResponse struct {
	PID        int           `json:"pid"`
	State      process.State `json:"state"`
	Host       string        `json:"host"`
	Msg        string        `json:"msg"`
	TargetPath string        `json:"target_path,omitempty"`
}

type statusItem struct {
	PID        int           `json:"pid"`
	State      process.State `json:"state"`
	Host       string        `json:"host"`
	TargetPath string        `json:"target_path"`
}

type indexEntry struct {
	Link        string `json:"link"`
	Description string `json:"description"`
}

func (r *Router) fail(c *gin.Context, err error) {
	writeJSON(c, http.StatusInternalServerError, errorResp{Error: "An error occurred: " + err.Error()})
}

func (r *Router) handleIndex(c *gin.Context) {
	root := origin(c) + r.basePath
	var out []indexEntry
	for _, k := range process.Kinds() {
		out = append(out,
			indexEntry{Link: root + "/" + string(k) + "/run/{runfolder}", Description: "POST: launch " + string(k) + " for a runfolder; body {\"target\": ...}"},
			indexEntry{Link: root + "/" + string(k) + "/status/{pid}", Description: "GET: status of one " + string(k) + " job"},
			indexEntry{Link: root + "/" + string(k) + "/status", Description: "GET: status of all " + string(k) + " jobs"},
		)
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleRun(c *gin.Context) {
	kind, err := process.ParseKind(c.Param("variant"))
	if err != nil {
		r.fail(c, err)
		return
	}
	var req runRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		r.fail(c, errors.New("invalid JSON: "+err.Error()))
		return
	}
	target := firstNonEmpty(req.Target, req.Runfolder, c.Param("runfolder"))
	if target == "" {
		r.fail(c, errors.New("target is required"))
		return
	}
	v, err := wrapper.ForKind(kind)
	if err != nil {
		r.fail(c, err)
		return
	}

	rec, err := r.reg.Launch(c.Request.Context(), v, r.settings, wrapper.Params{
		Target:         target,
		QCConfig:       req.QCConfig,
		SisyphusConfig: req.SisyphusConfig,
	})
	if err != nil {
		r.fail(c, err)
		return
	}

	resp := runResponse{
		PID:            rec.PID,
		State:          rec.State,
		Host:           rec.Host,
		TargetPath:     rec.Runfolder,
		Link:           statusLink(origin(c)+r.basePath, rec.Kind, rec.PID),
		Msg:            rec.Msg,
		ServiceVersion: r.serviceVersion,
	}
	if r.versionTimeout > 0 {
		ver, err := wrapper.SisyphusVersion(context.WithoutCancel(c.Request.Context()), r.settings, r.versionTimeout)
		if err != nil {
			r.log.Debug("sisyphus version unavailable", "error", err)
		}
		resp.SisyphusVersion = ver
	}
	writeJSON(c, http.StatusAccepted, resp)
}

func (r *Router) handleStatus(c *gin.Context) {
	kind, err := process.ParseKind(c.Param("variant"))
	if err != nil {
		r.fail(c, err)
		return
	}
	raw := c.Param("pid")
	pid, err := strconv.Atoi(raw)
	if err != nil || pid <= 0 {
		r.fail(c, errors.New("invalid pid "+strconv.Quote(raw)))
		return
	}
	rec := r.reg.Status(pid, kind)
	resp := statusResponse{PID: rec.PID, State: rec.State, Host: rec.Host, Msg: rec.Msg}
	if rec.State != process.StateNone {
		resp.TargetPath = rec.Runfolder
	}
	writeJSON(c, http.StatusOK, resp)
}

func (r *Router) handleStatusAll(c *gin.Context) {
	kind, err := process.ParseKind(c.Param("variant"))
	if err != nil {
		r.fail(c, err)
		return
	}
	recs := r.reg.All(kind)
	out := make([]statusItem, 0, len(recs))
	for _, rec := range recs {
		out = append(out, statusItem{PID: rec.PID, State: rec.State, Host: rec.Host, TargetPath: rec.Runfolder})
	}
	writeJSON(c, http.StatusOK, out)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
