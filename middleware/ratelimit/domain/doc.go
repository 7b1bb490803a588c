// Package domain define contratos e tipos de domínio do rate limit por janela
// deslizante: escopos (ip, fingerprint, apiKey), o registro persistido, o
// contrato transacional do CounterStore e as estatísticas.
//
// Este pacote não depende de net/http nem de implementações concretas.
package domain
