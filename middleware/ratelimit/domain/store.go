package domain

import (
	"context"
	"time"
)

// CounterStore é o store compartilhado entre todas as instâncias do gateway.
//
// O limiter nunca guarda BucketState entre chamadas; toda leitura/escrita passa
// por aqui. Implementações: memória (testes, instância única) e Redis (produção).
type CounterStore interface {
	// Get retorna (estado, true) ou (_, false) quando a chave não existe/expirou.
	Get(ctx context.Context, key Key) (Versioned, bool, error)
	// CreateIfAbsent cria o bucket atomicamente se não existir.
	// Se outra instância criou antes, retorna o estado existente.
	CreateIfAbsent(ctx context.Context, key Key, initial BucketState, ttl time.Duration) (Versioned, error)
	// CompareAndSwap grava next somente se a versão atual for expectedVersion.
	// false sem erro significa conflito.
	CompareAndSwap(ctx context.Context, key Key, expectedVersion int64, next BucketState, ttl time.Duration) (bool, error)
}

// AtomicTaker é implementado por stores capazes de fazer refill + consumo num
// único passo atômico (Lua no Redis, mutex do shard em memória). O Limiter usa
// esse caminho quando disponível: não há retry no cliente e a contenção numa
// chave quente não esgota tentativas. CounterStore puro continua com o loop de CAS.
type AtomicTaker interface {
	TakeAtomic(ctx context.Context, key Key, rule Rule, now time.Time, ttl time.Duration) (Decision, error)
}
