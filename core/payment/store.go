package payment

import "context"

// AttemptStore keeps checkout attempts for their lifetime (and a while after, to answer duplicate callbacks).
type AttemptStore interface {
	// Create fails with ErrDuplicateOrder if the order id is taken.
	Create(ctx context.Context, a Attempt) error
	// Get fails with ErrAttemptNotFound.
	Get(ctx context.Context, orderID string) (Attempt, error)
	// Update atomically applies fn to the stored attempt.
	// Nothing is saved when fn returns an error, which Update then returns as is.
	Update(ctx context.Context, orderID string, fn func(a *Attempt) error) (Attempt, error)
}
