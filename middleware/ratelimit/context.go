package ratelimit

import "context"

type ctxKey int

const (
	identityKey ctxKey = iota
	remainingKey
)

// WithIdentity é chamado pelo middleware de autenticação (antes do rate
// limit) depois de verificar o fingerprint do cliente.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

func IdentityFromContext(ctx context.Context) string {
	id, _ := ctx.Value(identityKey).(string)
	return id
}

// RemainingFromContext devolve a cota restante calculada pelo gate para a
// requisição corrente. ok=false quando o limite não se aplicou.
func RemainingFromContext(ctx context.Context) (int, bool) {
	n, ok := ctx.Value(remainingKey).(int)
	return n, ok
}

func withRemaining(ctx context.Context, n int) context.Context {
	return context.WithValue(ctx, remainingKey, n)
}
