// Package store holds the persistence contracts shared by the domain services.
package store

import "context"

// TxRunner executes fn inside a single store transaction. Repository calls
// made with the context passed to fn join that transaction. If fn returns an
// error every write made through it is rolled back.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pinger reports store availability.
type Pinger interface {
	Ping(ctx context.Context) error
}
