// Package memstore holds in-memory implementations of the register, event and sales
// stores, plus the replica table. The server uses them when STORE_DRIVER=memory; package
// tests use them as fakes.
package memstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
)

type RegisterStore struct {
	mu      sync.Mutex
	nextId  int
	records map[int]*models.CashRegister
}

func NewRegisterStore() *RegisterStore {
	return &RegisterStore{records: map[int]*models.CashRegister{}}
}

func (s *RegisterStore) CreateCashRegister(_ context.Context, register *models.CashRegister) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextId++
	register.ID = s.nextId
	now := time.Now().UTC()
	register.CreatedAt = now
	register.UpdatedAt = now
	s.records[register.ID] = cloneRegister(register)
	return nil
}

func (s *RegisterStore) SaveCashRegister(_ context.Context, register *models.CashRegister) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[register.ID]; !ok {
		return utils.ErrorRecordNotFound
	}
	register.UpdatedAt = time.Now().UTC()
	s.records[register.ID] = cloneRegister(register)
	return nil
}

func (s *RegisterStore) DeleteCashRegister(_ context.Context, id int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[id]; !ok {
		return false, nil
	}
	delete(s.records, id)
	return true, nil
}

func (s *RegisterStore) GetCashRegister(_ context.Context, id int) (*models.CashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return nil, utils.ErrorRecordNotFound
	}
	return cloneRegister(r), nil
}

func (s *RegisterStore) SetCashRegisterActive(_ context.Context, id int, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.records[id]
	if !ok {
		return utils.ErrorRecordNotFound
	}
	r.IsActive = &active
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *RegisterStore) RegisterNumberTaken(_ context.Context, number string, exceptId int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	number = strings.TrimSpace(number)
	for id, r := range s.records {
		if id != exceptId && r.RegisterNumber == number {
			return true, nil
		}
	}
	return false, nil
}

func (s *RegisterStore) ListCashRegisters(_ context.Context, onlyAvailable bool) ([]*models.CashRegister, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*models.CashRegister, 0, len(s.records))
	for _, r := range s.records {
		if onlyAvailable && r.IsAssigned() {
			continue
		}
		out = append(out, cloneRegister(r))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RegisterNumber < out[j].RegisterNumber })
	return out, nil
}

func (s *RegisterStore) GetCashRegistersByIds(ctx context.Context, ids []int) ([]*models.CashRegister, error) {
	out := make([]*models.CashRegister, 0, len(ids))
	for _, id := range ids {
		r, err := s.GetCashRegister(ctx, id)
		if err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// Len is the number of live registers.
func (s *RegisterStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func cloneRegister(r *models.CashRegister) *models.CashRegister {
	c := *r
	if r.IsActive != nil {
		v := *r.IsActive
		c.IsActive = &v
	}
	if r.OperatorId != nil {
		v := *r.OperatorId
		c.OperatorId = &v
	}
	if r.OperatorName != nil {
		v := *r.OperatorName
		c.OperatorName = &v
	}
	return &c
}

// EventStore is an append-only slice per register. IDs are assigned in append order.
type EventStore struct {
	mu     sync.Mutex
	nextId int
	events []*models.LedgerEvent
	// FailAppend, when set, is returned by AppendEvent without storing anything.
	FailAppend error
	// FailReads, when set, is returned by every read.
	FailReads error
}

func NewEventStore() *EventStore {
	return &EventStore{}
}

func (s *EventStore) AppendEvent(_ context.Context, event *models.LedgerEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailAppend != nil {
		return s.FailAppend
	}
	s.nextId++
	event.ID = s.nextId
	event.CreatedAt = time.Now().UTC()
	c := *event
	s.events = append(s.events, &c)
	return nil
}

func (s *EventStore) ListEvents(_ context.Context, registerId int) ([]*models.LedgerEvent, error) {
	return s.filter(func(e *models.LedgerEvent) bool { return e.RegisterId == registerId })
}

func (s *EventStore) ListEventsByOperator(_ context.Context, operatorId string) ([]*models.LedgerEvent, error) {
	return s.filter(func(e *models.LedgerEvent) bool { return e.OperatorId == operatorId })
}

func (s *EventStore) LatestEvent(ctx context.Context, registerId int) (*models.LedgerEvent, error) {
	events, err := s.ListEvents(ctx, registerId)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, nil
	}
	return events[len(events)-1], nil
}

func (s *EventStore) LastAppendId(_ context.Context, registerId int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return 0, s.FailReads
	}
	mark := 0
	for _, e := range s.events {
		if e.RegisterId == registerId && e.ID > mark {
			mark = e.ID
		}
	}
	return mark, nil
}

// Len is the total number of appended events.
func (s *EventStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func (s *EventStore) filter(keep func(*models.LedgerEvent) bool) ([]*models.LedgerEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailReads != nil {
		return nil, s.FailReads
	}
	out := make([]*models.LedgerEvent, 0)
	for _, e := range s.events {
		if keep(e) {
			c := *e
			out = append(out, &c)
		}
	}
	models.SortLedgerEvents(out)
	return out, nil
}

type SalesFeed struct {
	mu    sync.Mutex
	sales []*models.PosSale
}

func NewSalesFeed() *SalesFeed {
	return &SalesFeed{}
}

func (f *SalesFeed) Add(sale *models.PosSale) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sales = append(f.sales, sale)
}

func (f *SalesFeed) UpsertPosSale(_ context.Context, sale *models.PosSale) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, s := range f.sales {
		if s.BusinessId == sale.BusinessId && s.ExternalId == sale.ExternalId {
			sale.ID = s.ID
			f.sales[i] = sale
			return nil
		}
	}
	sale.ID = len(f.sales) + 1
	f.sales = append(f.sales, sale)
	return nil
}

func (f *SalesFeed) ListSalesSince(_ context.Context, registerId int, since time.Time) ([]*models.PosSale, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*models.PosSale, 0)
	for _, s := range f.sales {
		if s.RegisterId != registerId || s.Status != models.PosSaleStatusCompleted || s.CompletedAt.Before(since) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

// Len is the number of stored sales.
func (f *SalesFeed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sales)
}

type SupervisorStore struct {
	mu   sync.Mutex
	rows []*models.Supervisor
}

func NewSupervisorStore() *SupervisorStore {
	return &SupervisorStore{}
}

func (s *SupervisorStore) CreateSupervisor(_ context.Context, supervisor *models.Supervisor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	supervisor.ID = len(s.rows) + 1
	s.rows = append(s.rows, supervisor)
	return nil
}

// GetSupervisorByCode returns nil, nil when no supervisor has the code.
func (s *SupervisorStore) GetSupervisorByCode(_ context.Context, businessId string, code string) (*models.Supervisor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, row := range s.rows {
		if row.BusinessId == businessId && row.Code == code {
			return row, nil
		}
	}
	return nil, nil
}

// ReplicaStore keeps events received from other instances, once per message id.
type ReplicaStore struct {
	mu       sync.Mutex
	seen     map[string]bool
	replicas []*models.LedgerEventReplica
}

func NewReplicaStore() *ReplicaStore {
	return &ReplicaStore{seen: map[string]bool{}}
}

func (s *ReplicaStore) ApplyReplica(_ context.Context, businessId string, messageId string, event *models.LedgerEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := businessId + "|" + messageId
	if s.seen[key] || s.seen[businessId+"|uid:"+event.EventUid] {
		return false, nil
	}
	s.seen[key] = true
	s.seen[businessId+"|uid:"+event.EventUid] = true
	replica := models.NewLedgerEventReplica(event)
	replica.ID = len(s.replicas) + 1
	replica.ReceivedAt = time.Now().UTC()
	s.replicas = append(s.replicas, replica)
	return true, nil
}

// Replicas returns copies in arrival order.
func (s *ReplicaStore) Replicas() []models.LedgerEventReplica {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.LedgerEventReplica, 0, len(s.replicas))
	for _, r := range s.replicas {
		out = append(out, *r)
	}
	return out
}
