// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - MemoryCounterStore: buckets em memória com TTL (testes, instância única)
//   - RedisCounterStore: buckets compartilhados no Redis, CAS via script Lua
//   - ChanPool: semáforo simples para limitar operações em voo no store
//   - MemoryStatsStore / RedisStatsStore / PrometheusStatsStore: estatísticas das decisões
package infra
