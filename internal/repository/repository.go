package repository

import (
	"context"
	"errors"

	"github.com/ghaggin/envelope/internal/model"
)

var (
	ErrNotFound = errors.New("not found")
)

type Repository interface {
	GetChild(ctx context.Context, id string) (*model.Child, error)
	AddChild(ctx context.Context, child *model.Child) error
	ListChildren(ctx context.Context, parentID string) ([]model.Child, error)
}
