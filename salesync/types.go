package salesync

import "encoding/json"

type posSale struct {
	ID             string       `json:"id"`
	SaleNumber     string       `json:"sale_number"`
	RegisterNumber string       `json:"register_number"`
	SaleStatus     string       `json:"sale_status"`
	TotalAmount    json.Number  `json:"total_amount"`
	PaymentMethod  string       `json:"payment_method"`
	Payments       []posPayment `json:"payments"`
	CompletedAt    string       `json:"completed_at"`
	UpdatedAt      string       `json:"updated_at"`
}

type posPayment struct {
	Method string      `json:"method"`
	Amount json.Number `json:"amount"`
}

// CursorEntry is where the next sync resumes.
type CursorEntry struct {
	UpdatedSince string `json:"updated_since"`
	Cursor       string `json:"cursor"`
}

type SyncError struct {
	ExternalId string `json:"external_id"`
	Code       string `json:"code"`
	Message    string `json:"message"`
	Retryable  bool   `json:"retryable"`
}

type Result struct {
	BusinessId string      `json:"business_id"`
	Synced     int         `json:"synced"`
	Errors     []SyncError `json:"errors"`
	Cursor     CursorEntry `json:"cursor"`
}
