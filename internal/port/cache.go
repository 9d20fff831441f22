package port

import (
	"context"

	"github.com/tanglemarket/trade-engine/internal/domain"
)

type Cache interface {
	SetBook(ctx context.Context, token string, book *domain.BookSnapshot) error
	GetBook(ctx context.Context, token string) (*domain.BookSnapshot, error)
	Invalidate(ctx context.Context, token string) error
}
