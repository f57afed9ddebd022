package repository

import (
	"context"

	"github.com/tahwil/tahwil-ledger/internal/models"
)

type UserRepository interface {
	GetByID(ctx context.Context, id int32) (*models.User, error)
}
