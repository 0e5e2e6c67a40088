package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Frameworks that can front the gin handler.
const (
	FrameworkGin  = "gin"
	FrameworkEcho = "echo"
)

// NewServer wraps the router in an http.Server listening on addr. With the echo
// framework the gin handler is mounted inside an echo instance for every path.
// The caller runs ListenAndServe and Shutdown.
func NewServer(addr, framework string, r *Router) (*http.Server, error) {
	h := r.Handler()
	switch framework {
	case "", FrameworkGin:
	case FrameworkEcho:
		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		wrapped := echo.WrapHandler(h)
		if base := r.BasePath(); base != "" {
			e.Any(base, wrapped)
			e.Any(base+"/*", wrapped)
		}
		if r.metrics != nil && r.metricsPath != "" {
			e.GET(r.metricsPath, wrapped)
		}
		// everything else reaches gin too, so unknown routes get its 500 error body
		e.Any("/*", wrapped)
		h = e
	default:
		return nil, fmt.Errorf("unknown framework %q", framework)
	}
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}, nil
}
