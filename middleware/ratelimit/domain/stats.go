package domain

import (
	"context"
	"time"
)

// RateLimitStat é uma linha por decisão do rate limit (append-only).
//
// Usado só para relatório; o caminho de admissão nunca lê isso.
//
// Observação: cuidado com cardinalidade (ex.: salvar ScopeKey/Endpoint sem
// controle pode explodir o número de séries/chaves em Redis/Prometheus).
type RateLimitStat struct {
	ScopeKey  string
	ScopeType ScopeType
	Policy    string
	Allowed   bool

	Method   string
	Endpoint string

	// Remaining após esta requisição. 0 quando rejeitada.
	Remaining int

	Timestamp time.Time
}

// StatsStore é a estratégia de persistência para estatísticas do rate limit.
//
// Implementações podem armazenar em Redis, SQL, memória, Prometheus etc.
// O recorder trata erro como best-effort (não derruba request).
type StatsStore interface {
	Record(ctx context.Context, st RateLimitStat) error
}
