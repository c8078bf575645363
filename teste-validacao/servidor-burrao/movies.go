package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
)

type movie struct {
	ID    int    `json:"id"`
	Title string `json:"title"`
}

type movieEvent struct {
	MovieID    int       `json:"movieId"`
	DateViewed time.Time `json:"dateViewed"`
}

var movies = []movie{
	{ID: 1, Title: "The Silence of the Lambdas"},
	{ID: 2, Title: "Back to the Future"},
	{ID: 3, Title: "AEon Flux"},
	{ID: 4, Title: "Meet the Fluxers"},
	{ID: 5, Title: "The Fluxxinator"},
	{ID: 6, Title: "Flux Gordon"},
	{ID: 7, Title: "Y Tu Mono Tambien"},
}

// newMux monta as rotas do upstream. every é o intervalo entre eventos do stream.
func newMux(log *zap.SugaredLogger, every time.Duration) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /movies", func(w http.ResponseWriter, r *http.Request) {
		log.Infow("request", "path", r.URL.Path, "xff", r.Header.Get("X-Forwarded-For"))
		writeJSON(w, http.StatusOK, movies)
	})
	mux.HandleFunc("GET /movies/{id}", func(w http.ResponseWriter, r *http.Request) {
		m, ok := lookupMovie(w, r)
		if ok {
			writeJSON(w, http.StatusOK, m)
		}
	})
	mux.HandleFunc("GET /movies/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		m, ok := lookupMovie(w, r)
		if !ok {
			return
		}
		streamEvents(w, r, m.ID, every, log)
	})
	return mux
}

func lookupMovie(w http.ResponseWriter, r *http.Request) (movie, bool) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid id"})
		return movie{}, false
	}
	for _, m := range movies {
		if m.ID == id {
			return m, true
		}
	}
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
	return movie{}, false
}

// streamEvents emite um evento "visualizado agora" por intervalo até o cliente sair.
func streamEvents(w http.ResponseWriter, r *http.Request, movieID int, every time.Duration, log *zap.SugaredLogger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			log.Debugw("events stream closed", "movieId", movieID)
			return
		case now := <-ticker.C:
			data, err := json.Marshal(movieEvent{MovieID: movieID, DateViewed: now.UTC()})
			if err != nil {
				return
			}
			if _, err := fmt.Fprintf(w, "data:%s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
