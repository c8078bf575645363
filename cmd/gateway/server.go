package main

import (
	"net/http"
	"net/http/httputil"
	"net/url"

	"gateway-ratelimit/middleware/ratelimit"
	"gateway-ratelimit/middleware/ratelimit/domain"
	"gateway-ratelimit/middleware/ratelimit/metrics"

	"go.uber.org/zap"
)

type handlerDeps struct {
	limiter ratelimit.Acquirer
	stats   domain.StatsStore
	cfg     config
	log     *zap.SugaredLogger
}

// buildHandler monta o mux: cada rota vira proxy -> rate limit -> auth (de dentro para fora).
func buildHandler(routes []boundRoute, users map[string][]byte, deps handlerDeps) http.Handler {
	mux := http.NewServeMux()
	for _, rt := range routes {
		var h http.Handler
		switch rt.handler {
		case handlerTitles:
			h = newTitlesHandler(rt.upstream, deps.log.With("route", rt.name))
		default:
			h = newProxy(rt.upstream, deps.log.With("route", rt.name))
		}
		if rt.rule.Bound() {
			h = ratelimit.Middleware(ratelimit.Options{
				Limiter:             deps.limiter,
				Rule:                rt.rule,
				Route:               rt.name,
				Stats:               deps.stats,
				KeyFn:               rt.keyFn,
				RejectStatus:        http.StatusTooManyRequests,
				AddRateLimitHeaders: deps.cfg.addHeaders,
				Logger:              deps.log,
			})(h)
		}
		if rt.auth {
			h = basicAuth(users, "gateway", h)
		}
		mux.Handle(rt.path, h)
	}
	if deps.cfg.metricsPath != "" {
		mux.Handle(deps.cfg.metricsPath, metrics.Handler())
	}
	return mux
}

// newProxy encaminha para o recurso exato configurado no upstream.
// FlushInterval -1 repassa cada escrita na hora (text/event-stream).
func newProxy(target *url.URL, log *zap.SugaredLogger) http.Handler {
	return &httputil.ReverseProxy{
		FlushInterval: -1,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.Out.URL.Path = target.Path
			pr.Out.URL.RawPath = target.RawPath
			pr.SetXForwarded()
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			log.Warnw("proxy error", "upstream", target.String(), "error", err)
			http.Error(w, "bad gateway", http.StatusBadGateway)
		},
	}
}
