package repository

import (
	"context"
	"database/sql"
)

// TxManager runs fn inside a single database transaction. A non-nil error
// from fn rolls everything back; partial application never survives.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(tx *sql.Tx) error) error
}
