package main

import (
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

type upstreamMovie struct {
	Title string `json:"title"`
}

// newTitlesHandler busca a lista de filmes no upstream e responde só os títulos.
func newTitlesHandler(target *url.URL, log *zap.SugaredLogger) http.Handler {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var movies []upstreamMovie
		resp, err := client.R().
			SetContext(r.Context()).
			SetResult(&movies).
			ForceContentType("application/json").
			Get(target.String())
		if err != nil {
			log.Warnw("titles upstream error", "upstream", target.String(), "error", err)
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}
		if resp.IsError() {
			log.Warnw("titles upstream status", "upstream", target.String(), "status", resp.StatusCode())
			http.Error(w, "bad gateway", http.StatusBadGateway)
			return
		}

		titles := make([]string, 0, len(movies))
		for _, m := range movies {
			titles = append(titles, m.Title)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(titles)
	})
}
