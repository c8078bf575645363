package main

import (
	"net/http"
	"os"
	"time"

	"go.uber.org/zap"
)

// Upstream de teste para o gateway: as rotas padrão apontam para /movies.
func main() {
	zlog, _ := zap.NewDevelopment()
	defer func() { _ = zlog.Sync() }()
	log := zlog.Sugar()

	addr := ":8081"
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		addr = v
	}
	log.Infow("servidor rodando", "addr", addr)
	if err := http.ListenAndServe(addr, newMux(log, time.Second)); err != nil {
		log.Fatalw("erro ao subir o servidor", "error", err)
	}
}
