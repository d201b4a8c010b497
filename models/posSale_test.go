package models

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestPosSaleCashTender(t *testing.T) {
	d := decimal.RequireFromString
	cases := []struct {
		name string
		sale PosSale
		want string
	}{
		{
			name: "pure cash counts in full",
			sale: PosSale{Status: PosSaleStatusCompleted, PaymentMethod: PaymentMethodCash, TotalAmount: d("40.00")},
			want: "40",
		},
		{
			name: "card contributes nothing",
			sale: PosSale{Status: PosSaleStatusCompleted, PaymentMethod: PaymentMethodCard, TotalAmount: d("25.50")},
			want: "0",
		},
		{
			name: "mixed counts only cash lines",
			sale: PosSale{
				Status:        PosSaleStatusCompleted,
				PaymentMethod: PaymentMethodMixed,
				TotalAmount:   d("100.00"),
				Payments: []PosSalePayment{
					{Method: PaymentMethodCash, Amount: d("30.00")},
					{Method: PaymentMethodCard, Amount: d("60.00")},
					{Method: PaymentMethodCash, Amount: d("10.00")},
				},
			},
			want: "40",
		},
		{
			name: "voided cash sale contributes nothing",
			sale: PosSale{Status: PosSaleStatusVoided, PaymentMethod: PaymentMethodCash, TotalAmount: d("12.00")},
			want: "0",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := tc.sale.CashTender()
			if !got.Equal(d(tc.want)) {
				t.Fatalf("CashTender() = %s, want %s", got, tc.want)
			}
		})
	}
}
