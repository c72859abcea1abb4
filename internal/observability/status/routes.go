package status

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	logx "naptime/pkg/logx"
)

// Handler builds the routes for cfg. /healthz is never behind the token so
// process supervisors can probe it.
func (s *Service) Handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	auth := bearer(cfg.Token)

	mux.HandleFunc("GET /healthz", s.serveHealth)
	mux.Handle("GET /status", auth(http.HandlerFunc(s.serveStatus)))
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	if cfg.Pprof {
		mountPprof(mux, normalizePrefix(cfg.Prefix), auth)
	}
	return mux
}

func (s *Service) serveHealth(w http.ResponseWriter, _ *http.Request) {
	if check := s.health.Load(); check != nil && *check != nil {
		if err := (*check)(); err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	_, _ = w.Write([]byte("ok\n"))
}

func (s *Service) serveStatus(w http.ResponseWriter, r *http.Request) {
	var doc any = struct{}{}
	if s.doc != nil {
		doc = s.doc(r.Context())
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		s.log.Debug("status encode failed", logx.Err(err))
	}
}

// bearer accepts "Authorization: Bearer <token>" or "?token=<token>". An
// empty token disables the check.
func bearer(token string) func(http.Handler) http.Handler {
	want := []byte(strings.TrimSpace(token))
	return func(next http.Handler) http.Handler {
		if len(want) == 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := r.URL.Query().Get("token")
			if got == "" {
				got, _ = strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			}
			if subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), want) != 1 {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func mountPprof(mux *http.ServeMux, prefix string, auth func(http.Handler) http.Handler) {
	base := strings.TrimSuffix(prefix, "/")
	// pprof.Index resolves profile names relative to /debug/pprof/.
	index := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r2 := r.Clone(r.Context())
		r2.URL.Path = "/debug/pprof/" + strings.TrimPrefix(r.URL.Path, prefix)
		hpprof.Index(w, r2)
	})
	mux.Handle(prefix, auth(index))
	for name, h := range map[string]http.HandlerFunc{
		"cmdline": hpprof.Cmdline,
		"profile": hpprof.Profile,
		"symbol":  hpprof.Symbol,
		"trace":   hpprof.Trace,
	} {
		mux.Handle(base+"/"+name, auth(h))
	}
	mux.Handle(base, http.RedirectHandler(prefix, http.StatusPermanentRedirect))
}

func normalizePrefix(prefix string) string {
	p := strings.Trim(strings.TrimSpace(prefix), "/")
	if p == "" {
		return "/debug/pprof/"
	}
	return "/" + p + "/"
}
