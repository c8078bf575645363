package ratelimit

import "context"

type principalKey struct{}

// WithPrincipal registra no contexto a identidade autenticada da requisição.
// Quem autentica (basic auth, JWT, ...) é colaborador externo; aqui só lemos.
func WithPrincipal(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, principalKey{}, name)
}

func PrincipalFrom(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(principalKey{}).(string)
	return v, ok && v != ""
}
