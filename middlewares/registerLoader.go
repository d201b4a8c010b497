package middlewares

import (
	"context"

	"github.com/graph-gophers/dataloader/v7"
	"github.com/mmdatafocus/cashier_backend/models"
)

type registerReader struct {
	reader RegisterReader
}

func (r *registerReader) getRegisters(ctx context.Context, ids []int) []*dataloader.Result[*models.CashRegister] {
	results, err := r.reader.GetCashRegistersByIds(ctx, ids)
	if err != nil {
		return handleError[*models.CashRegister](len(ids), err)
	}
	resultMap := make(map[int]*models.CashRegister, len(results))
	for _, result := range results {
		resultMap[result.ID] = result
	}
	loaderResults := make([]*dataloader.Result[*models.CashRegister], 0, len(ids))
	for _, id := range ids {
		loaderResults = append(loaderResults, &dataloader.Result[*models.CashRegister]{Data: resultMap[id]})
	}
	return loaderResults
}

// GetRegister returns nil for a register that no longer exists.
func GetRegister(ctx context.Context, id int) (*models.CashRegister, error) {
	loaders := For(ctx)
	return loaders.RegisterLoader.Load(ctx, id)()
}

func GetRegisters(ctx context.Context, ids []int) ([]*models.CashRegister, []error) {
	loaders := For(ctx)
	return loaders.RegisterLoader.LoadMany(ctx, ids)()
}
