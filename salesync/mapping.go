package salesync

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/shopspring/decimal"
)

var errSaleNotCompleted = errors.New("sale is not completed")

func mapSaleStatus(status string) (models.PosSaleStatus, bool) {
	switch strings.ToUpper(strings.TrimSpace(status)) {
	case "COMPLETED":
		return models.PosSaleStatusCompleted, true
	case "CANCELED", "CANCELLED", "VOIDED", "VOID":
		return models.PosSaleStatusVoided, true
	}
	return "", false
}

func mapPaymentMethod(method string) (models.PaymentMethod, bool) {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case "CASH":
		return models.PaymentMethodCash, true
	case "CARD", "CREDIT_CARD", "DEBIT_CARD":
		return models.PaymentMethodCard, true
	case "MOBILE", "WALLET", "QR":
		return models.PaymentMethodMobile, true
	case "MIXED", "SPLIT":
		return models.PaymentMethodMixed, true
	}
	return "", false
}

// toPosSale maps a POS payload onto the local sale row. Draft and other
// in-progress sales are reported with errSaleNotCompleted.
func toPosSale(businessId string, registerId int, sale posSale) (*models.PosSale, error) {
	status, ok := mapSaleStatus(sale.SaleStatus)
	if !ok {
		return nil, errSaleNotCompleted
	}
	method, ok := mapPaymentMethod(sale.PaymentMethod)
	if !ok {
		return nil, fmt.Errorf("unknown payment method %q", sale.PaymentMethod)
	}
	total, err := decimalFromNumber(sale.TotalAmount)
	if err != nil {
		return nil, fmt.Errorf("total_amount: %w", err)
	}
	completedAt, err := time.Parse(time.RFC3339, strings.TrimSpace(sale.CompletedAt))
	if err != nil {
		return nil, fmt.Errorf("completed_at: %w", err)
	}

	out := &models.PosSale{
		BusinessId:    businessId,
		ExternalId:    strings.TrimSpace(sale.ID),
		RegisterId:    registerId,
		SaleNumber:    strings.TrimSpace(sale.SaleNumber),
		Status:        status,
		PaymentMethod: method,
		TotalAmount:   total,
		CompletedAt:   completedAt.UTC(),
	}
	if method != models.PaymentMethodMixed {
		return out, nil
	}
	for _, p := range sale.Payments {
		lineMethod, ok := mapPaymentMethod(p.Method)
		if !ok || lineMethod == models.PaymentMethodMixed {
			return nil, fmt.Errorf("unknown payment line method %q", p.Method)
		}
		amount, err := decimalFromNumber(p.Amount)
		if err != nil {
			return nil, fmt.Errorf("payment amount: %w", err)
		}
		out.Payments = append(out.Payments, models.PosSalePayment{Method: lineMethod, Amount: amount})
	}
	return out, nil
}

func decimalFromNumber(num json.Number) (decimal.Decimal, error) {
	if num.String() == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(num.String())
	if err != nil {
		return decimal.Zero, err
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("negative amount %s", d)
	}
	return d, nil
}
