// Package application contém o caso de uso do rate limit: o Token Bucket Limiter.
//
// Ele depende apenas de domain (e de clock/metrics) e não conhece net/http.
// Ex.: Limiter.TryAcquire(ctx, key, rule) sempre retorna uma Decision; falhas do
// store viram fail-open/fail-closed conforme a política, nunca erro para o chamador.
package application
