// Package ratelimit fornece o gate de admissão HTTP (net/http e gin) do rate
// limit por janela deslizante, compartilhado entre instâncias via CounterStore.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: janela deslizante, retry de conflito, decisão, estatísticas
//   - infra: stores concretos (Redis, memória) e sinks de estatística
//   - config: struct de configuração (defaults + YAML + env)
//   - ratelimit (este pacote): resolver de escopo + gate + adapters HTTP
//
// Fluxo no gateway:
//
//   1) Resolver deriva (scope, limit) da rota: IP, fingerprint ou API key
//   2) Service decide dentro de uma transação, com retry em conflito
//   3) Se bloqueado, responde 429 com retryAfter; falha do store segue a
//      FailurePolicy global (500 ou segue em frente)
//   4) Se permitido, chama o próximo handler (ex: reverse proxy)
//
// Variáveis de ambiente do binário gateway (cmd/gateway) controlam o comportamento,
// como RATE_LIMIT_ENABLED, RATE_LIMIT_FAILURE_POLICY e <POLICY>_RATE_LIMIT_MAX.
package ratelimit
