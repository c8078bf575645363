// utilitário pequeno para formatação rápida/consistente de valores numéricos em headers.
//    Padroniza a formatação do float (strconv.FormatFloat), evitando notação científica em
//    valores comuns e mantendo o código consistente

package ratelimit

import (
	"math"
	"strconv"
	"time"
)

func formatInt(v int) string { return strconv.Itoa(v) }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatRemaining arredonda para baixo: o cliente só enxerga tokens inteiros.
// -1 significa saldo desconhecido (store indisponível).
func formatRemaining(v float64) string {
	if v < 0 {
		return "-1"
	}
	return strconv.FormatInt(int64(math.Floor(v)), 10)
}

// retryAfterSeconds arredonda para cima (Retry-After só aceita segundos inteiros).
func retryAfterSeconds(d time.Duration) string {
	secs := int64(math.Ceil(d.Seconds()))
	if secs < 1 {
		secs = 1
	}
	return strconv.FormatInt(secs, 10)
}
