package domain

import "errors"

var (
	// ErrStoreUnavailable: o store não respondeu dentro do timeout.
	ErrStoreUnavailable = errors.New("ratelimit: counter store unavailable")
	// ErrConfiguration: Config inválida, detectada no bind da rota.
	ErrConfiguration = errors.New("ratelimit: invalid configuration")
	// ErrCASConflictExhausted: tentativas de CAS esgotadas por contenção na mesma chave.
	ErrCASConflictExhausted = errors.New("ratelimit: compare-and-swap retries exhausted")
	// ErrKeyResolution: não foi possível derivar a chave; a requisição segue sem limite.
	ErrKeyResolution = errors.New("ratelimit: key resolution failed")
)

// IsStoreFailure agrupa os erros que seguem a FailurePolicy.
func IsStoreFailure(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) || errors.Is(err, ErrCASConflictExhausted)
}
