/*
Copyright © 2025 Japonism Festival <dev@japonism.live>
*/

package main

import (
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
	"go.uber.org/zap"
)

// serveQR renders a PNG QR code of the controller page so attendees can
// join from a phone by scanning a stage screen. The encoded URL is
// --controller-url when set, otherwise derived from the request
// (respecting TLS and X-Forwarded-Proto behind a proxy).
func serveQR(cfg *Config, log *zap.SugaredLogger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		url := cfg.controllerURL
		if url == "" {
			scheme := "http"
			if r.TLS != nil {
				scheme = "https"
			}
			if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
				scheme = proto
			}

			url = scheme + "://" + r.Host + strings.TrimSuffix(r.URL.Path, "/qr") + "/"
		}

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			log.Warnf("qr generation for %q: %v", url, err)
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		securityHeaders(cfg, w)
		_, _ = w.Write(png)
	}
}
