package middleware

import (
	"net/http"
	"runtime/debug"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var doubleWrites = promauto.NewCounter(prometheus.CounterOpts{
	Name: "funland_http_double_writeheader_total",
	Help: "Handlers that called WriteHeader more than once.",
})

// DebugWriteHeader reports handlers that write the status twice, which usually
// means a redirect or error page was rendered after a response had started.
// It is a pass-through unless enabled (DEBUG_DOUBLE_WRITE).
func DebugWriteHeader(enabled bool, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	if !enabled {
		return func(next http.Handler) http.Handler { return next }
	}
	log.Infow("double WriteHeader detection enabled")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(&statusGuard{ResponseWriter: w, req: r, log: log}, r)
		})
	}
}

type statusGuard struct {
	http.ResponseWriter
	req   *http.Request
	log   *zap.SugaredLogger
	sent  atomic.Bool
	first int
}

func (g *statusGuard) WriteHeader(code int) {
	if g.sent.CompareAndSwap(false, true) {
		g.first = code
		g.ResponseWriter.WriteHeader(code)
		return
	}
	doubleWrites.Inc()
	g.log.Warnw("double WriteHeader",
		"method", g.req.Method,
		"path", g.req.URL.Path,
		"request_id", RequestIDFrom(g.req.Context()),
		"first", g.first,
		"second", code,
		"stack", string(debug.Stack()))
}

func (g *statusGuard) Write(b []byte) (int, error) {
	if !g.sent.Load() {
		g.WriteHeader(http.StatusOK)
	}
	return g.ResponseWriter.Write(b)
}
