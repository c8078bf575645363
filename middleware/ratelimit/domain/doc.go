// Package domain define contratos e tipos de domínio do rate limit distribuído.
//
// Este pacote não depende de net/http nem de implementações concretas de store.
// Aqui ficam a regra do token bucket (Rule.Take), o contrato do store compartilhado
// (CounterStore) e os erros que a camada application traduz em Decision.
package domain
