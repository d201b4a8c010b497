package ledger

import (
	"time"

	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/shopspring/decimal"
)

type SessionState string

const (
	SessionClosed SessionState = "Closed"
	SessionOpen   SessionState = "Open"
)

// Session is the derived state of one register. It is never persisted.
type Session struct {
	RegisterId    int                 `json:"register_id"`
	State         SessionState        `json:"state"`
	OpenedAt      *time.Time          `json:"opened_at,omitempty"`
	OpenedBy      string              `json:"opened_by,omitempty"`
	OpeningAmount decimal.Decimal     `json:"opening_amount"`
	Deposits      decimal.Decimal     `json:"deposits"`
	Withdrawals   decimal.Decimal     `json:"withdrawals"`
	CashSales     decimal.Decimal     `json:"cash_sales"`
	LedgerBalance decimal.Decimal     `json:"ledger_balance"`
	LastEvent     *models.LedgerEvent `json:"last_event,omitempty"`

	// highest local append id folded in
	appendMark int
}

func (s Session) IsOpen() bool {
	return s.State == SessionOpen
}

// Balance is the expected cash in the drawer: the ledger fold plus cash sales.
func (s Session) Balance() decimal.Decimal {
	if !s.IsOpen() {
		return decimal.Zero
	}
	return s.LedgerBalance.Add(s.CashSales)
}


// Replay folds a register's events into its session. Events may arrive in any order;
// the input slice is not modified.
//
// Only the suffix starting at the last Open matters. A Close after it ends the session.
func Replay(registerId int, events []*models.LedgerEvent) Session {
	sorted := make([]*models.LedgerEvent, len(events))
	copy(sorted, events)
	models.SortLedgerEvents(sorted)

	s := closedSession(registerId)
	if len(sorted) == 0 {
		return s
	}
	s.LastEvent = sorted[len(sorted)-1]
	for _, ev := range sorted {
		if ev.ID > s.appendMark {
			s.appendMark = ev.ID
		}
	}

	start := -1
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i].Kind == models.LedgerEventKindOpen {
			start = i
			break
		}
	}
	if start < 0 {
		return s
	}

	open := sorted[start]
	openedAt := open.OccurredAt
	s.State = SessionOpen
	s.OpenedAt = &openedAt
	s.OpenedBy = open.OperatorId
	s.OpeningAmount = open.Amount
	s.LedgerBalance = open.Amount

	for _, ev := range sorted[start+1:] {
		switch ev.Kind {
		case models.LedgerEventKindDeposit:
			s.Deposits = s.Deposits.Add(ev.Amount)
			s.LedgerBalance = s.LedgerBalance.Add(ev.Amount)
		case models.LedgerEventKindWithdrawal:
			s.Withdrawals = s.Withdrawals.Add(ev.Amount)
			s.LedgerBalance = s.LedgerBalance.Sub(ev.Amount)
		case models.LedgerEventKindClose:
			closed := closedSession(registerId)
			closed.LastEvent = s.LastEvent
			closed.appendMark = s.appendMark
			return closed
		}
	}
	return s
}

// WithSales adds the cash tender of every sale completed at or after the session opened.
func (s Session) WithSales(sales []*models.PosSale) Session {
	if !s.IsOpen() || s.OpenedAt == nil {
		return s
	}
	total := decimal.Zero
	for _, sale := range sales {
		if sale == nil || sale.CompletedAt.Before(*s.OpenedAt) {
			continue
		}
		total = total.Add(sale.CashTender())
	}
	s.CashSales = total
	return s
}

func closedSession(registerId int) Session {
	return Session{
		RegisterId:    registerId,
		State:         SessionClosed,
		OpeningAmount: decimal.Zero,
		Deposits:      decimal.Zero,
		Withdrawals:   decimal.Zero,
		CashSales:     decimal.Zero,
		LedgerBalance: decimal.Zero,
	}
}
