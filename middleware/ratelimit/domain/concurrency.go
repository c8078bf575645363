package domain

import "context"

// SlotPool limita quantas chamadas ao CounterStore ficam em voo.
// O release devolvido deve ser chamado uma única vez.
type SlotPool interface {
	Acquire(ctx context.Context) (release func(), ok bool)
	TryAcquire() (release func(), ok bool)
}
