// Package application contém os casos de uso do rate limit: a janela
// deslizante (Evaluate/SlidingWindow), o Retrier de conflitos de transação,
// o Service que junta os dois e o StatsRecorder best-effort.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Service.Decide(ctx, scope, limit) retorna uma Decision (allow/deny + retry-after).
package application
