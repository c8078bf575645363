package domain

import (
	"context"
	"strings"
	"time"
)

// StatsEvent é uma decisão do filtro, já resolvida.
// Key só deve ser persistida com controle de cardinalidade.
type StatsEvent struct {
	Key     Key
	Route   string
	Allowed bool
	Outcome Outcome

	Method string
	Path   string

	At time.Time
}

// Degraded indica decisão tomada pela FailurePolicy e não pelo bucket.
func (ev StatsEvent) Degraded() bool {
	return ev.Outcome == OutcomeFailOpen || ev.Outcome == OutcomeFailClosed
}

// Scope agrupa o evento: nome da rota, ou "METHOD path" quando não há rota.
func (ev StatsEvent) Scope() string {
	if r := strings.TrimSpace(ev.Route); r != "" {
		return r
	}
	return strings.TrimSpace(strings.TrimSpace(ev.Method) + " " + strings.TrimSpace(ev.Path))
}

// StatsStore recebe os eventos. Erro é best-effort: o middleware só registra em log.
type StatsStore interface {
	Record(ctx context.Context, ev StatsEvent) error
}

type StatsSnapshot struct {
	Allowed  int64
	Denied   int64
	Degraded int64
	Outcomes map[Outcome]int64
}

// StatsReader lê os contadores acumulados. Scope vazio = total.
type StatsReader interface {
	Snapshot(ctx context.Context, scope string) (StatsSnapshot, error)
}
