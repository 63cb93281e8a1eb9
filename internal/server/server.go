package server

import (
	"errors"
	"io/fs"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sjawhar/rehearsal/internal/audio"
)

// RequestRecorder counts served requests by route pattern.
type RequestRecorder interface {
	RecordRequest(method, route, status string)
}

type Deps struct {
	Hub         *Hub
	DeviceCheck DeviceCheck
	Practice    Practice
	History     History
	Narration   Narration
	Clips       ClipResolver
	Arbiter     *audio.Arbiter
	Warnings    func() []string
	Metrics     RequestRecorder
	Gatherer    prometheus.Gatherer
	// StaticFS is the optional web UI bundle.
	StaticFS fs.FS
}

func Handler(deps Deps) (http.Handler, error) {
	if deps.Hub == nil {
		return nil, errors.New("server: hub is required")
	}
	if deps.DeviceCheck == nil || deps.Practice == nil {
		return nil, errors.New("server: device check and practice are required")
	}

	mux := http.NewServeMux()
	r := &routes{mux: mux, deps: deps}

	registerWSRoute(mux, deps.Hub)
	r.registerAPI()

	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}
	if deps.StaticFS != nil {
		fileServer := http.FileServer(http.FS(deps.StaticFS))
		mux.HandleFunc("/", serveSPA(fileServer))
	}

	return mux, nil
}

type routes struct {
	mux  *http.ServeMux
	deps Deps
}

// handle registers fn and records the response status under its pattern.
func (r *routes) handle(pattern string, fn http.HandlerFunc) {
	route := pattern
	if _, p, ok := strings.Cut(pattern, " "); ok {
		route = p
	}
	r.mux.HandleFunc(pattern, func(w http.ResponseWriter, req *http.Request) {
		if r.deps.Metrics == nil {
			fn(w, req)
			return
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		fn(sw, req)
		r.deps.Metrics.RecordRequest(req.Method, route, strconv.Itoa(sw.status))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" {
			http.NotFound(w, r)
			return
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/index.html"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
