package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	logx "github.com/agentic-pharmacy/server/pkg/logger"
)

type Config struct {
	Addr         string        `envconfig:"HTTP_ADDR" default:":8000"`
	ReadTimeout  time.Duration `envconfig:"HTTP_READ_TIMEOUT" default:"30s"`
	WriteTimeout time.Duration `envconfig:"HTTP_WRITE_TIMEOUT" default:"180s"`
	CORSOrigin   string        `envconfig:"HTTP_CORS_ORIGIN" default:"*"`
}

// NewRouter wires every endpoint. metrics may be nil.
func NewRouter(h *Handler, cfg Config, metrics http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(cors(cfg.CORSOrigin))

	r.Get("/", h.Root)
	r.Post("/chat", h.Chat)
	r.Delete("/chat/{threadID}", h.ClearThread)
	r.Get("/alerts", h.Alerts)
	r.Get("/inventory", h.Inventory)
	r.Get("/history", h.History)
	r.Post("/upload-prescription", h.UploadPrescription)
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}
	return r
}

func NewServer(h http.Handler, cfg Config) *http.Server {
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           h,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.WriteTimeout,
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logx.Info().
			Str("request_id", middleware.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Msg("HTTP request")
	})
}

func cors(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		origin = "*"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Authorization, ngrok-skip-browser-warning")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
