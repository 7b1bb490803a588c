package domain

// Camada de domínio do rate limit.
//
// Regras e contratos (interfaces/tipos) sem dependência de net/http.

import (
	"context"
	"errors"
	"time"
)

// ScopeType identifica contra o que o limite é contado.
type ScopeType string

const (
	ScopeIP          ScopeType = "ip"
	ScopeFingerprint ScopeType = "fingerprint"
	ScopeAPIKey      ScopeType = "apiKey"
)

func (t ScopeType) Valid() bool {
	switch t {
	case ScopeIP, ScopeFingerprint, ScopeAPIKey:
		return true
	}
	return false
}

// Scope é a chave tipada de um limite.
//
// Policy é o nome da classe de rota (health, public, ...). Duas policies
// com o mesmo IP não compartilham registro.
type Scope struct {
	Type   ScopeType
	ID     string
	Policy string
}

// Key devolve a chave lógica do escopo, ex.: "ip:203.0.113.4".
func (s Scope) Key() string { return string(s.Type) + ":" + s.ID }

// Limit é a configuração de uma janela: no máximo Max requisições aceitas
// dentro de Window.
type Limit struct {
	Window time.Duration
	Max    int
}

func (l Limit) Valid() bool { return l.Window > 0 && l.Max > 0 }

// RateLimitRecord é o documento persistido por escopo.
//
// Este formato também é lido pelo job externo de limpeza (remove registros
// por idade de LastUpdated). Não mudar sem alinhar com ele.
type RateLimitRecord struct {
	ScopeKey string
	// RequestTimestamps em milissegundos, ordem cronológica.
	RequestTimestamps []int64
	LastUpdated       time.Time
	ScopeType         ScopeType
}

type Decision struct {
	Allowed   bool
	Remaining int
	Limit     int
	// RetryAfter é o tempo até a janela liberar um slot. Só faz sentido
	// quando Allowed=false.
	RetryAfter time.Duration
}

// RetryAfterSeconds arredonda RetryAfter para cima, em segundos inteiros.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 0
	}
	ms := d.RetryAfter.Milliseconds()
	return int((ms + 999) / 1000)
}

// TxResult diferencia um commit de um conflito de concorrência.
// Erros terminais vêm no retorno error, nunca aqui.
type TxResult int

const (
	TxCommitted TxResult = iota
	// TxConflict: outro escritor alterou o registro entre a leitura e o
	// commit. Nada foi aplicado; o chamador deve tentar de novo.
	TxConflict
)

func (r TxResult) String() string {
	if r == TxConflict {
		return "conflict"
	}
	return "committed"
}

// UpdateFunc recebe o registro atual (vazio se não existir) e decide se
// ele deve ser gravado. Retornar false não grava nada.
type UpdateFunc func(rec *RateLimitRecord) (write bool)

// CounterStore é o store transacional compartilhado entre instâncias.
//
// Update executa fn dentro de uma transação otimista sobre o registro de
// scope: leitura, fn, escrita condicional. Em conflito retorna TxConflict e
// nada é aplicado.
type CounterStore interface {
	Update(ctx context.Context, scope Scope, fn UpdateFunc) (TxResult, error)
	Get(ctx context.Context, scope Scope) (RateLimitRecord, bool, error)
}

var (
	// ErrContention indica que o orçamento de retentativas esgotou.
	ErrContention = errors.New("ratelimit: transaction contention, retries exhausted")
	// ErrStoreUnavailable indica erro terminal do store.
	ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")
)
