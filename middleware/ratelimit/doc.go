// Package ratelimit fornece o adapter HTTP (net/http) do rate limit distribuído.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: Token Bucket Limiter (CAS no store compartilhado, timeout, fail-open/closed)
//   - infra: implementações concretas (store em memória, Redis, stats, semáforo)
//   - ratelimit (este pacote): middleware HTTP + resolução de chave + tradução para status/headers
//
// Fluxo no gateway:
//
//   1) Resolve a chave (principal autenticado / header / IP / rota)
//   2) Chave vazia: requisição sem limite, segue direto
//   3) Chama o Limiter para obter a decisão
//   4) Se bloqueado, responde 429 com Retry-After e corpo JSON (retryAfterMillis, remainingTokens)
//   5) Se permitido, chama o próximo handler (ex: reverse proxy) sem alterar a requisição
//
// A configuração de cada rota (capacity, refillRatePerSecond, requestedTokens,
// keyResolver) é validada uma vez no bind (domain.Bind / ParseKeyStrategy) e fica
// imutável depois disso.
package ratelimit
