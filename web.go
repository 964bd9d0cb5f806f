/*
Copyright © 2025 Japonism Festival <dev@japonism.live>
*/

package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"go.uber.org/zap"
)

const timeout time.Duration = 10 * time.Second

type summaryResponse struct {
	Message string  `json:"message"`
	Status  string  `json:"status"`
	Players int     `json:"players"`
	Uptime  float64 `json:"uptime"`
}

type statusResponse struct {
	Players      map[string]Player `json:"players"`
	TotalPlayers int               `json:"totalPlayers"`
	MapSize      mapSize           `json:"mapSize"`
	ServerTime   time.Time         `json:"serverTime"`
}

type mapSize struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveJSON(cfg *Config, log *zap.SugaredLogger, page string, w http.ResponseWriter, r *http.Request, payload any) {
	startTime := time.Now()

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	securityHeaders(cfg, w)

	data, err := json.Marshal(payload)
	if err != nil {
		http.Error(w, "encoding failed", http.StatusInternalServerError)
		return
	}

	written, err := w.Write(data)
	if err != nil {
		log.Warnf("writing %s response to %s: %v", page, realIP(r), err)
		return
	}

	log.Debugf("SERVE: %s (%s) to %s in %s",
		page,
		humanReadableSize(int64(written)),
		realIP(r),
		time.Since(startTime).Round(time.Microsecond),
	)
}

// serveSummary answers GET / with the lightweight liveness summary the
// controller splash screens poll.
func serveSummary(cfg *Config, hub *Hub, log *zap.SugaredLogger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		serveJSON(cfg, log, "summary", w, r, summaryResponse{
			Message: "Japonism Festival Server",
			Status:  "running",
			Players: hub.PlayerCount(),
			Uptime:  hub.Uptime().Seconds(),
		})
	}
}

// serveStatus answers GET /status with the full player map for the
// dashboard. Read-only; the same snapshot the broadcast engine sends.
func serveStatus(cfg *Config, hub *Hub, log *zap.SugaredLogger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		snapshot := hub.Snapshot()
		serveJSON(cfg, log, "status", w, r, statusResponse{
			Players:      snapshot,
			TotalPlayers: len(snapshot),
			MapSize:      mapSize{Width: cfg.mapWidth, Height: cfg.mapHeight},
			ServerTime:   time.Now().UTC(),
		})
	}
}

func serveHealthCheck(cfg *Config, log *zap.SugaredLogger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		if _, err := w.Write([]byte("Ok\n")); err != nil {
			log.Warnf("writing health check to %s: %v", realIP(r), err)
		}
	}
}

func serveVersion(cfg *Config, log *zap.SugaredLogger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		if _, err := w.Write([]byte("festival-server v" + releaseVersion + "\n")); err != nil {
			log.Warnf("writing version to %s: %v", realIP(r), err)
		}
	}
}

func newRouter(cfg *Config, hub *Hub, log *zap.SugaredLogger) *httprouter.Router {
	mux := httprouter.New()

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.Errorf("panic serving %s to %s: %v", r.URL.Path, realIP(r), i)

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusInternalServerError)

		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
	}

	mux.GET(cfg.prefix+"/", serveSummary(cfg, hub, log))
	mux.GET(cfg.prefix+"/status", serveStatus(cfg, hub, log))
	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg, log))
	mux.GET(cfg.prefix+"/version", serveVersion(cfg, log))
	mux.GET(cfg.prefix+"/qr", serveQR(cfg, log))
	mux.GET(cfg.prefix+"/ws", serveWS(hub, log))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	return mux
}

func ServePage(ctx context.Context, cfg *Config) error {
	log, flush := newLogger(cfg)
	defer flush()

	log.Infof("START: festival-server v%s", releaseVersion)

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	hub := newHub(cfg, log)
	go hub.run(ctx)

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           newRouter(cfg, hub, log),
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	go func() {
		var err error
		log.Infof("SERVE: Listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}
