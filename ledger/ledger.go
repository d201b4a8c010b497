// Package ledger derives cash register sessions and balances by replaying each
// register's append-only event log, and validates every transition before it is appended.
//
// The ledger assumes one writer per register. Two Open calls racing on the same
// register can both pass the Closed check; callers serialize per register.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Ledger struct {
	events    EventStore
	sales     SalesFeed
	registers Registers

	cache   *replayCache
	metrics *Metrics
	logger  *logrus.Logger
	tracer  trace.Tracer
	now     func() time.Time
	newUid  func() string
}

type Option func(*Ledger)

func WithLogger(logger *logrus.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithMetrics(m *Metrics) Option {
	return func(l *Ledger) { l.metrics = m }
}

// WithReplayCache memoizes the event fold for up to size registers. It only takes
// effect when the event store also implements AppendMarkReader.
func WithReplayCache(size int) Option {
	return func(l *Ledger) {
		c, err := newReplayCache(size)
		if err != nil {
			l.logger.WithFields(logrus.Fields{"field": "ledger"}).Warn("replay cache disabled: " + err.Error())
			return
		}
		l.cache = c
	}
}

func New(events EventStore, sales SalesFeed, registers Registers, opts ...Option) *Ledger {
	l := &Ledger{
		events:    events,
		sales:     sales,
		registers: registers,
		logger:    config.GetLogger(),
		tracer:    otel.Tracer("cashier-ledger"),
		now:       func() time.Time { return time.Now().UTC() },
		newUid:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

type CloseInput struct {
	RegisterId        int
	OperatorId        string
	CountedAmount     decimal.Decimal
	DiscrepancyReason *string
	AuthorizedBy      *string
}

// OpenRegister starts a session with the counted opening float.
func (l *Ledger) OpenRegister(ctx context.Context, registerId int, operatorId string, openingAmount decimal.Decimal) (ev *models.LedgerEvent, err error) {
	ctx, span := l.startSpan(ctx, "OpenRegister", registerId)
	defer func() { l.finish(span, "open", err) }()

	register, err := l.requireRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if err := validateOperation(registerId, operatorId, "opening amount", openingAmount); err != nil {
		return nil, err
	}
	session, err := l.replay(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if session.IsOpen() {
		return nil, models.NewLedgerError(models.ErrorKindAlreadyOpen, registerId,
			"register %d was opened at %s and has not been closed", registerId, session.OpenedAt.Format(time.RFC3339))
	}

	ev = l.newEvent(ctx, register, operatorId, models.LedgerEventKindOpen, openingAmount, nil)
	if err := l.append(ctx, ev); err != nil {
		return nil, err
	}
	l.markActive(ctx, registerId, true)
	return ev, nil
}

func (l *Ledger) Deposit(ctx context.Context, registerId int, operatorId string, amount decimal.Decimal, reason *string) (ev *models.LedgerEvent, err error) {
	ctx, span := l.startSpan(ctx, "Deposit", registerId)
	defer func() { l.finish(span, "deposit", err) }()

	register, err := l.requireRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if err := validateOperation(registerId, operatorId, "deposit amount", amount); err != nil {
		return nil, err
	}
	session, err := l.replay(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if !session.IsOpen() {
		return nil, notOpen(registerId, "deposit")
	}

	ev = l.newEvent(ctx, register, operatorId, models.LedgerEventKindDeposit, amount, reason)
	if err := l.append(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Withdraw removes cash from an open drawer. The amount may not exceed the balance
// derived immediately before it, cash sales included.
func (l *Ledger) Withdraw(ctx context.Context, registerId int, operatorId string, amount decimal.Decimal, reason *string) (ev *models.LedgerEvent, err error) {
	ctx, span := l.startSpan(ctx, "Withdraw", registerId)
	defer func() { l.finish(span, "withdraw", err) }()

	register, err := l.requireRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if err := validateOperation(registerId, operatorId, "withdrawal amount", amount); err != nil {
		return nil, err
	}
	session, err := l.session(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if !session.IsOpen() {
		return nil, notOpen(registerId, "withdraw from")
	}
	balance := session.Balance()
	if amount.GreaterThan(balance) {
		return nil, models.NewLedgerError(models.ErrorKindInsufficientBalance, registerId,
			"withdrawal of %s exceeds current balance %s", amount.StringFixed(2), balance.StringFixed(2))
	}

	ev = l.newEvent(ctx, register, operatorId, models.LedgerEventKindWithdrawal, amount, reason)
	if err := l.append(ctx, ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// CloseRegister ends the session. The expected balance is computed before the Close
// is appended; any difference is stored signed (counted - expected). On a shortage the
// discrepancy reason and authorizer are kept exactly as supplied, and neither is required.
func (l *Ledger) CloseRegister(ctx context.Context, input CloseInput) (ev *models.LedgerEvent, err error) {
	registerId := input.RegisterId
	ctx, span := l.startSpan(ctx, "CloseRegister", registerId)
	defer func() { l.finish(span, "close", err) }()

	register, err := l.requireRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if err := validateOperation(registerId, input.OperatorId, "counted amount", input.CountedAmount); err != nil {
		return nil, err
	}
	session, err := l.session(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if !session.IsOpen() {
		return nil, notOpen(registerId, "close")
	}

	expected := session.Balance()
	ev = l.newEvent(ctx, register, input.OperatorId, models.LedgerEventKindClose, input.CountedAmount, nil)
	ev.ExpectedAmount = &expected
	difference := input.CountedAmount.Sub(expected)
	if !difference.IsZero() {
		ev.Difference = &difference
	}
	if difference.IsNegative() {
		ev.DiscrepancyReason = input.DiscrepancyReason
		ev.AuthorizedBy = input.AuthorizedBy
		if input.DiscrepancyReason == nil || strings.TrimSpace(*input.DiscrepancyReason) == "" {
			l.logger.WithFields(logrus.Fields{
				"field":       "ledger",
				"register_id": registerId,
				"operator_id": input.OperatorId,
				"difference":  difference.String(),
			}).Warn("register closed short without a discrepancy reason")
		}
	}

	if err := l.append(ctx, ev); err != nil {
		return nil, err
	}
	l.markActive(ctx, registerId, false)
	return ev, nil
}

// CurrentBalance returns the expected drawer cash; zero when the register is closed.
func (l *Ledger) CurrentBalance(ctx context.Context, registerId int) (decimal.Decimal, error) {
	s, err := l.Session(ctx, registerId)
	if err != nil {
		return decimal.Zero, err
	}
	return s.Balance(), nil
}

func (l *Ledger) IsOpen(ctx context.Context, registerId int) (bool, error) {
	if _, err := l.requireRegister(ctx, registerId); err != nil {
		return false, err
	}
	s, err := l.replay(ctx, registerId)
	if err != nil {
		return false, err
	}
	return s.IsOpen(), nil
}

// Session returns the derived session including cash sales.
func (l *Ledger) Session(ctx context.Context, registerId int) (Session, error) {
	if _, err := l.requireRegister(ctx, registerId); err != nil {
		return Session{}, err
	}
	return l.session(ctx, registerId)
}

// LatestEvent returns nil, nil for a register without events.
func (l *Ledger) LatestEvent(ctx context.Context, registerId int) (*models.LedgerEvent, error) {
	if _, err := l.requireRegister(ctx, registerId); err != nil {
		return nil, err
	}
	if reader, ok := l.events.(LatestEventReader); ok {
		return reader.LatestEvent(ctx, registerId)
	}
	events, err := l.EventsForRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[len(events)-1], nil
}

// EventsForRegister returns the register's log in replay order.
func (l *Ledger) EventsForRegister(ctx context.Context, registerId int) ([]*models.LedgerEvent, error) {
	if _, err := l.requireRegister(ctx, registerId); err != nil {
		return nil, err
	}
	events, err := l.events.ListEvents(ctx, registerId)
	if err != nil {
		return nil, fmt.Errorf("list events for register %d: %w", registerId, err)
	}
	models.SortLedgerEvents(events)
	return events, nil
}

func (l *Ledger) EventsForOperator(ctx context.Context, operatorId string) ([]*models.LedgerEvent, error) {
	if strings.TrimSpace(operatorId) == "" {
		return nil, models.NewLedgerError(models.ErrorKindInvalidInput, 0, "operator id is required")
	}
	events, err := l.events.ListEventsByOperator(ctx, operatorId)
	if err != nil {
		return nil, fmt.Errorf("list events for operator %s: %w", operatorId, err)
	}
	models.SortLedgerEvents(events)
	return events, nil
}

// session is replay plus the cash sales of the open window.
func (l *Ledger) session(ctx context.Context, registerId int) (Session, error) {
	s, err := l.replay(ctx, registerId)
	if err != nil {
		return Session{}, err
	}
	if !s.IsOpen() || l.sales == nil {
		return s, nil
	}
	sales, err := l.sales.ListSalesSince(ctx, registerId, *s.OpenedAt)
	if err != nil {
		return Session{}, fmt.Errorf("list sales for register %d: %w", registerId, err)
	}
	return s.WithSales(sales), nil
}

func (l *Ledger) replay(ctx context.Context, registerId int) (Session, error) {
	reader, canPeek := l.events.(AppendMarkReader)
	if l.cache == nil || !canPeek {
		return l.load(ctx, registerId)
	}

	mark, err := reader.LastAppendId(ctx, registerId)
	if err != nil {
		return Session{}, fmt.Errorf("last append id for register %d: %w", registerId, err)
	}
	if mark == 0 {
		return closedSession(registerId), nil
	}
	if s, ok := l.cache.get(registerId, mark); ok {
		l.metrics.cache(true)
		return s, nil
	}
	l.metrics.cache(false)

	s, err := l.cache.do(registerId, mark, func() (Session, error) {
		return l.load(ctx, registerId)
	})
	if err != nil {
		return Session{}, err
	}
	l.cache.put(s)
	return s, nil
}

func (l *Ledger) load(ctx context.Context, registerId int) (Session, error) {
	started := time.Now()
	events, err := l.events.ListEvents(ctx, registerId)
	if err != nil {
		return Session{}, fmt.Errorf("list events for register %d: %w", registerId, err)
	}
	s := Replay(registerId, events)
	l.metrics.replayed(started)
	return s, nil
}

func (l *Ledger) append(ctx context.Context, ev *models.LedgerEvent) error {
	if err := l.events.AppendEvent(ctx, ev); err != nil {
		config.LogError(l.logger, "ledger.go", "append", "Appending ledger event", ev, err)
		return fmt.Errorf("append %s event: %w", ev.Kind, err)
	}
	l.cache.invalidate(ev.RegisterId)
	l.logger.WithFields(logrus.Fields{
		"field":          "ledger",
		"register_id":    ev.RegisterId,
		"operator_id":    ev.OperatorId,
		"kind":           ev.Kind,
		"amount":         ev.Amount.String(),
		"event_uid":      ev.EventUid,
		"correlation_id": ev.CorrelationId,
	}).Info("ledger event appended")
	return nil
}

func (l *Ledger) newEvent(ctx context.Context, register *models.CashRegister, operatorId string, kind models.LedgerEventKind, amount decimal.Decimal, reason *string) *models.LedgerEvent {
	operatorName, _ := utils.GetOperatorNameFromContext(ctx)
	correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
	return &models.LedgerEvent{
		EventUid:      l.newUid(),
		BusinessId:    register.BusinessId,
		RegisterId:    register.ID,
		OperatorId:    operatorId,
		OperatorName:  operatorName,
		Kind:          kind,
		Amount:        amount,
		Reason:        reason,
		OccurredAt:    l.now(),
		CorrelationId: correlationId,
	}
}

func (l *Ledger) requireRegister(ctx context.Context, registerId int) (*models.CashRegister, error) {
	register, err := l.registers.GetRegister(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if register == nil {
		return nil, models.NewLedgerError(models.ErrorKindRegisterNotFound, registerId, "register %d does not exist", registerId)
	}
	return register, nil
}

// markActive is bookkeeping on the register row; the event is already durable,
// so a failure here is logged rather than returned.
func (l *Ledger) markActive(ctx context.Context, registerId int, active bool) {
	if err := l.registers.SetRegisterActive(ctx, registerId, active); err != nil {
		config.LogError(l.logger, "ledger.go", "markActive", "Updating register active flag", registerId, err)
	}
}

func (l *Ledger) startSpan(ctx context.Context, name string, registerId int) (context.Context, trace.Span) {
	return l.tracer.Start(ctx, "ledger."+name, trace.WithAttributes(attribute.Int("register_id", registerId)))
}

func (l *Ledger) finish(span trace.Span, op string, err error) {
	defer span.End()
	if err == nil {
		l.metrics.operation(op, "ok")
		return
	}
	result := "error"
	if kind, ok := models.LedgerErrorKindOf(err); ok {
		result = string(kind)
	}
	l.metrics.operation(op, result)
	span.RecordError(err)
	span.SetStatus(codes.Error, result)
}

func validateOperation(registerId int, operatorId string, what string, amount decimal.Decimal) error {
	if strings.TrimSpace(operatorId) == "" {
		return models.NewLedgerError(models.ErrorKindInvalidInput, registerId, "operator id is required")
	}
	if amount.IsNegative() {
		return models.NewLedgerError(models.ErrorKindInvalidInput, registerId, "%s must not be negative", what)
	}
	return nil
}

func notOpen(registerId int, action string) error {
	return models.NewLedgerError(models.ErrorKindRegisterNotOpen, registerId, "cannot %s register %d: no open session", action, registerId)
}
