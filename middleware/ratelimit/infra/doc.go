// Package infra contém implementações concretas (infraestrutura) para os contratos
// definidos no pacote domain.
//
// Exemplos:
//   - RedisCounterStore: registro por escopo num hash, transação WATCH/MULTI/EXEC
//   - MemoryCounterStore: mesmo contrato otimista, em memória (dev/testes)
//   - Stats: Redis, SQL (gorm), Prometheus, memória e fan-out
//   - ChanPool: semáforo simples para limitar gravações em voo
package infra
