package server

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/coah80/reelsave/internal/config"
	"github.com/coah80/reelsave/internal/middleware"
	"github.com/coah80/reelsave/internal/routes"
	"github.com/coah80/reelsave/internal/services"
)

type Deps struct {
	Store    *services.TokenStore
	Resolver services.Resolver
	Proxy    *services.DownloadProxy
	Limiter  *middleware.RateLimiter
	// PublicDir holds the static frontend. Empty means next to the binary.
	PublicDir string
}

func New(d Deps) *http.Server {
	return &http.Server{
		Addr:              ":" + config.Port,
		Handler:           NewRouter(d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}
}

func NewRouter(d Deps) chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(securityHeaders)
	r.Use(middleware.LoadCORS("cors-origins.txt"))

	routes.CoreRoutes(r, d.Store)

	r.Group(func(r chi.Router) {
		if d.Limiter != nil {
			r.Use(d.Limiter.Handler)
		}
		routes.VideoRoutes(r, &routes.VideoHandler{
			Store:    d.Store,
			Resolver: d.Resolver,
			Proxy:    d.Proxy,
		})
	})

	publicDir := d.PublicDir
	if publicDir == "" {
		publicDir = filepath.Join(filepath.Dir(os.Args[0]), "public")
	}
	if info, err := os.Stat(publicDir); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(publicDir))
	}

	return r
}

// spaHandler serves files from dir and falls back to index.html for
// unknown paths so client-side routes resolve.
func spaHandler(dir string) http.HandlerFunc {
	fileServer := http.FileServer(http.Dir(dir))
	return func(w http.ResponseWriter, r *http.Request) {
		cleaned := filepath.Clean(filepath.Join(dir, strings.TrimPrefix(r.URL.Path, "/")))
		if !strings.HasPrefix(cleaned, filepath.Clean(dir)) {
			http.NotFound(w, r)
			return
		}
		if _, err := os.Stat(cleaned); os.IsNotExist(err) {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
			return
		}
		fileServer.ServeHTTP(w, r)
	}
}

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func PrintBanner() {
	fmt.Printf(`
  ┌──────────────────────────────────┐
  │        reelsave %s         │
  │   instagram video download api   │
  └──────────────────────────────────┘
`, padVersion(config.Version))
}

func padVersion(v string) string {
	for len(v) < 10 {
		v += " "
	}
	return v
}
