package middlewares

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/cashier_backend/models"
)

type ctxKey string

const (
	loadersKey = ctxKey("dataloaders")
)

// RegisterReader loads registers in bulk. Missing ids are simply absent from the result.
type RegisterReader interface {
	GetCashRegistersByIds(ctx context.Context, ids []int) ([]*models.CashRegister, error)
}

// Loaders wrap your data loaders to inject via middleware
type Loaders struct {
	RegisterLoader *dataloader.Loader[int, *models.CashRegister]
}

// NewLoaders instantiates data loaders for the middleware
func NewLoaders(reader RegisterReader) *Loaders {
	registerReader := &registerReader{reader: reader}
	return &Loaders{
		RegisterLoader: dataloader.NewBatchedLoader(
			registerReader.getRegisters,
			dataloader.WithWait[int, *models.CashRegister](time.Millisecond),
		),
	}
}

func LoaderMiddleware(reader RegisterReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		loader := NewLoaders(reader)
		ctx := context.WithValue(c.Request.Context(), loadersKey, loader)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func For(ctx context.Context) *Loaders {
	loaders, _ := ctx.Value(loadersKey).(*Loaders)
	return loaders
}

// WithLoaders attaches loaders outside of a gin request (tests, tools).
func WithLoaders(ctx context.Context, loaders *Loaders) context.Context {
	return context.WithValue(ctx, loadersKey, loaders)
}

// handleError creates array of result with the same error repeated for as many items requested
func handleError[T any](itemsLength int, err error) []*dataloader.Result[T] {
	result := make([]*dataloader.Result[T], itemsLength)
	for i := 0; i < itemsLength; i++ {
		result[i] = &dataloader.Result[T]{Error: err}
	}
	return result
}
