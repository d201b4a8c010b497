package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cashier_backend/authgate"
	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/ledger"
	"github.com/mmdatafocus/cashier_backend/memstore"
	"github.com/mmdatafocus/cashier_backend/middlewares"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/registry"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/mmdatafocus/cashier_backend/workflow"
	"github.com/shopspring/decimal"
	"google.golang.org/api/idtoken"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	engine *gin.Engine
	sales  *memstore.SalesFeed
	now    time.Time
	// admin marks requests as coming from a business admin
	admin bool
}

// asOperator stands in for AuthMiddleware.
func asOperator(businessId, operatorId string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := utils.SetBusinessIdInContext(c.Request.Context(), businessId)
		ctx = utils.SetOperatorIdInContext(ctx, operatorId)
		ctx = utils.SetOperatorNameInContext(ctx, "Aye Aye")
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	now := time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)
	registerStore := memstore.NewRegisterStore()
	registers := registry.New(registerStore, nil)
	sales := memstore.NewSalesFeed()
	l := ledger.New(memstore.NewEventStore(), sales, registers, ledger.WithClock(func() time.Time { return now }))

	h := &Handler{
		Registry:  registers,
		Ledger:    l,
		Gate:      authgate.New(memstore.NewSupervisorStore(), nil),
		Registers: registerStore,
		Logger:    config.GetLogger(),
	}
	s := &testServer{sales: sales, now: now}
	r := gin.New()
	g := r.Group("/api", asOperator("biz-1", "op-1"), func(c *gin.Context) {
		c.Request = c.Request.WithContext(utils.SetIsAdminInContext(c.Request.Context(), s.admin))
	})
	h.Routes(g)
	s.engine = r
	return s
}

func (s *testServer) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func (s *testServer) createRegister(t *testing.T, name, number string) int {
	t.Helper()
	w := s.do(t, http.MethodPost, "/api/registers", gin.H{"name": name, "register_number": number})
	if w.Code != http.StatusCreated {
		t.Fatalf("create register: %d %s", w.Code, w.Body.String())
	}
	var register models.CashRegister
	if err := json.Unmarshal(w.Body.Bytes(), &register); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	return register.ID
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Kind string `json:"kind"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return body.Kind
}

func TestHandler_SessionLifecycle(t *testing.T) {
	s := newTestServer(t)
	id := s.createRegister(t, "Front till", "R1")
	base := fmt.Sprintf("/api/registers/%d", id)

	if w := s.do(t, http.MethodPost, base+"/open", gin.H{"opening_amount": "100.00"}); w.Code != http.StatusCreated {
		t.Fatalf("open: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, base+"/deposit", gin.H{"amount": "50", "reason": "change"}); w.Code != http.StatusCreated {
		t.Fatalf("deposit: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, base+"/withdraw", gin.H{"amount": 30}); w.Code != http.StatusCreated {
		t.Fatalf("withdraw: %d %s", w.Code, w.Body.String())
	}
	s.sales.Add(&models.PosSale{
		BusinessId:    "biz-1",
		ExternalId:    "s-1",
		RegisterId:    id,
		Status:        models.PosSaleStatusCompleted,
		PaymentMethod: models.PaymentMethodCash,
		TotalAmount:   decimal.RequireFromString("15"),
		CompletedAt:   s.now.Add(time.Minute),
	})

	w := s.do(t, http.MethodGet, base+"/balance", nil)
	var balance struct {
		Balance decimal.Decimal `json:"balance"`
		IsOpen  bool            `json:"is_open"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &balance); err != nil {
		t.Fatalf("decode balance: %v", err)
	}
	if !balance.IsOpen || !balance.Balance.Equal(decimal.RequireFromString("135")) {
		t.Fatalf("balance = %s open=%v, want 135 open", balance.Balance, balance.IsOpen)
	}

	w = s.do(t, http.MethodPost, base+"/close", gin.H{
		"counted_amount":     "125",
		"discrepancy_reason": "miscount",
		"authorized_by":      "Manager B",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	var closeEv models.LedgerEvent
	if err := json.Unmarshal(w.Body.Bytes(), &closeEv); err != nil {
		t.Fatalf("decode close: %v", err)
	}
	if closeEv.Difference == nil || !closeEv.Difference.Equal(decimal.RequireFromString("-10")) {
		t.Fatalf("difference = %v, want -10", closeEv.Difference)
	}
	if closeEv.AuthorizedBy == nil || *closeEv.AuthorizedBy != "Manager B" {
		t.Fatalf("authorized_by = %v", closeEv.AuthorizedBy)
	}

	w = s.do(t, http.MethodGet, base+"/status", nil)
	var session ledger.Session
	if err := json.Unmarshal(w.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if session.State != ledger.SessionClosed {
		t.Fatalf("state = %s, want Closed", session.State)
	}

	w = s.do(t, http.MethodGet, base+"/events", nil)
	var events []models.LedgerEvent
	if err := json.Unmarshal(w.Body.Bytes(), &events); err != nil {
		t.Fatalf("decode events: %v", err)
	}
	if len(events) != 4 || events[3].Kind != models.LedgerEventKindClose {
		t.Fatalf("events = %d, last %v", len(events), events)
	}
}

func TestHandler_ErrorStatus(t *testing.T) {
	s := newTestServer(t)
	id := s.createRegister(t, "Front till", "R1")
	base := fmt.Sprintf("/api/registers/%d", id)

	w := s.do(t, http.MethodPost, "/api/registers", gin.H{"name": "Dup", "register_number": "R1"})
	if w.Code != http.StatusConflict || decodeError(t, w) != string(models.ErrorKindDuplicateRegisterNumber) {
		t.Fatalf("duplicate number: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, base+"/deposit", gin.H{"amount": "5"})
	if w.Code != http.StatusUnprocessableEntity || decodeError(t, w) != string(models.ErrorKindRegisterNotOpen) {
		t.Fatalf("deposit closed: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodPost, base+"/open", gin.H{"opening_amount": "0"}); w.Code != http.StatusCreated {
		t.Fatalf("open zero float: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, base+"/open", gin.H{"opening_amount": "10"})
	if w.Code != http.StatusConflict || decodeError(t, w) != string(models.ErrorKindAlreadyOpen) {
		t.Fatalf("second open: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, base+"/withdraw", gin.H{"amount": "1"})
	if w.Code != http.StatusUnprocessableEntity || decodeError(t, w) != string(models.ErrorKindInsufficientBalance) {
		t.Fatalf("overdraw: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, base+"/deposit", gin.H{"amount": "-1"})
	if w.Code != http.StatusBadRequest || decodeError(t, w) != string(models.ErrorKindInvalidInput) {
		t.Fatalf("negative deposit: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodGet, "/api/registers/404/balance", nil)
	if w.Code != http.StatusNotFound || decodeError(t, w) != string(models.ErrorKindRegisterNotFound) {
		t.Fatalf("missing register: %d %s", w.Code, w.Body.String())
	}
	if w := s.do(t, http.MethodGet, "/api/registers/abc", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("bad id: %d", w.Code)
	}
	if w := s.do(t, http.MethodPost, base+"/close", gin.H{}); w.Code != http.StatusBadRequest {
		t.Fatalf("close without amount: %d", w.Code)
	}
}

func TestHandler_OperatorAssignment(t *testing.T) {
	s := newTestServer(t)
	id := s.createRegister(t, "Front till", "R1")
	path := fmt.Sprintf("/api/registers/%d/operator", id)

	if w := s.do(t, http.MethodPost, path, gin.H{"operator_id": "op-1", "operator_name": "Aye Aye"}); w.Code != http.StatusOK {
		t.Fatalf("assign: %d %s", w.Code, w.Body.String())
	}
	w := s.do(t, http.MethodPost, path, gin.H{"operator_id": "op-2"})
	if w.Code != http.StatusConflict || decodeError(t, w) != string(models.ErrorKindAlreadyAssigned) {
		t.Fatalf("second operator: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodGet, "/api/registers?available=true", nil)
	var available []models.CashRegister
	if err := json.Unmarshal(w.Body.Bytes(), &available); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(available) != 0 {
		t.Fatalf("assigned register listed as available: %+v", available)
	}

	if w := s.do(t, http.MethodDelete, path, nil); w.Code != http.StatusOK {
		t.Fatalf("unassign: %d", w.Code)
	}
	w = s.do(t, http.MethodGet, "/api/registers?available=true", nil)
	if err := json.Unmarshal(w.Body.Bytes(), &available); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(available) != 1 {
		t.Fatalf("available = %d, want 1", len(available))
	}
}

// A cashier cannot mint the supervisor that authorizes their own shortage.
func TestHandler_CreateSupervisorRequiresAdmin(t *testing.T) {
	s := newTestServer(t)
	body := gin.H{"code": "MGR9", "name": "U Ba", "pin": "1111"}

	w := s.do(t, http.MethodPost, "/api/supervisors", body)
	if w.Code != http.StatusForbidden {
		t.Fatalf("cashier create supervisor: %d %s", w.Code, w.Body.String())
	}

	s.admin = true
	if w := s.do(t, http.MethodPost, "/api/supervisors", body); w.Code != http.StatusCreated {
		t.Fatalf("admin create supervisor: %d %s (forbidden request must not have stored it)", w.Code, w.Body.String())
	}
}

func TestHandler_CloseWithSupervisorPin(t *testing.T) {
	s := newTestServer(t)
	id := s.createRegister(t, "Front till", "R1")
	base := fmt.Sprintf("/api/registers/%d", id)

	s.admin = true
	w := s.do(t, http.MethodPost, "/api/supervisors", gin.H{"code": "MGR1", "name": "Daw Hla", "pin": "4321"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create supervisor: %d %s", w.Code, w.Body.String())
	}
	s.admin = false
	if bytes.Contains(w.Body.Bytes(), []byte("4321")) {
		t.Fatalf("supervisor response leaks pin: %s", w.Body.String())
	}
	if w := s.do(t, http.MethodPost, base+"/open", gin.H{"opening_amount": "50"}); w.Code != http.StatusCreated {
		t.Fatalf("open: %d", w.Code)
	}

	w = s.do(t, http.MethodPost, base+"/close", gin.H{"counted_amount": "45", "supervisor_code": "MGR1", "supervisor_pin": "0000"})
	if w.Code != http.StatusForbidden {
		t.Fatalf("wrong pin: %d %s", w.Code, w.Body.String())
	}
	w = s.do(t, http.MethodPost, base+"/close", gin.H{"counted_amount": "45", "supervisor_code": "MGR1"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("code without pin: %d %s", w.Code, w.Body.String())
	}

	w = s.do(t, http.MethodPost, base+"/close", gin.H{
		"counted_amount":     "45",
		"discrepancy_reason": "short",
		"authorized_by":      "ignored",
		"supervisor_code":    "MGR1",
		"supervisor_pin":     "4321",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("close: %d %s", w.Code, w.Body.String())
	}
	var ev models.LedgerEvent
	if err := json.Unmarshal(w.Body.Bytes(), &ev); err != nil {
		t.Fatalf("decode close: %v", err)
	}
	if ev.AuthorizedBy == nil || *ev.AuthorizedBy != "Daw Hla" {
		t.Fatalf("authorized_by = %v, want supervisor name", ev.AuthorizedBy)
	}
}

func TestHandler_OperatorEventsCarryRegisterNames(t *testing.T) {
	s := newTestServer(t)
	front := s.createRegister(t, "Front till", "R1")
	back := s.createRegister(t, "Back till", "R2")
	for _, id := range []int{front, back} {
		if w := s.do(t, http.MethodPost, fmt.Sprintf("/api/registers/%d/open", id), gin.H{"opening_amount": "10"}); w.Code != http.StatusCreated {
			t.Fatalf("open %d: %d", id, w.Code)
		}
	}
	if w := s.do(t, http.MethodDelete, fmt.Sprintf("/api/registers/%d", back), nil); w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}

	w := s.do(t, http.MethodGet, "/api/operators/op-1/events", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("operator events: %d %s", w.Code, w.Body.String())
	}
	var views []struct {
		RegisterId   int    `json:"register_id"`
		RegisterName string `json:"register_name"`
		OperatorId   string `json:"operator_id"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("events = %d, want 2", len(views))
	}
	for _, v := range views {
		want := "Front till"
		if v.RegisterId == back {
			want = ""
		}
		if v.RegisterName != want || v.OperatorId != "op-1" {
			t.Fatalf("view = %+v, want name %q", v, want)
		}
	}
}

func TestHandler_LatestEventEmpty(t *testing.T) {
	s := newTestServer(t)
	id := s.createRegister(t, "Front till", "R1")
	if w := s.do(t, http.MethodGet, fmt.Sprintf("/api/registers/%d/events/latest", id), nil); w.Code != http.StatusNoContent {
		t.Fatalf("latest on empty log: %d", w.Code)
	}
}

type recordingApplier struct {
	err  error
	msgs []config.LedgerSyncMessage
}

func (a *recordingApplier) Apply(_ context.Context, msg config.LedgerSyncMessage) error {
	a.msgs = append(a.msgs, msg)
	return a.err
}

func pushBody(t *testing.T, data []byte) []byte {
	t.Helper()
	var envelope PubSubMessage
	envelope.Message.ID = "m-1"
	envelope.Message.Data = data
	b, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return b
}

func TestLedgerSyncPushHandler(t *testing.T) {
	msg, _ := json.Marshal(config.LedgerSyncMessage{BusinessId: "biz-1", RegisterId: 1, EventUid: "uid-1", Kind: "Open"})

	tests := []struct {
		name      string
		body      []byte
		applyErr  error
		want      int
		wantCalls int
	}{
		{"applied", pushBody(t, msg), nil, http.StatusNoContent, 1},
		{"garbage envelope", []byte("{"), nil, http.StatusNoContent, 0},
		{"garbage payload", pushBody(t, []byte("not json")), nil, http.StatusNoContent, 0},
		{"poisoned", pushBody(t, msg), fmt.Errorf("%w: no event", workflow.ErrInvalidLedgerSync), http.StatusNoContent, 1},
		{"retryable", pushBody(t, msg), errors.New("db down"), http.StatusInternalServerError, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &recordingApplier{err: tt.applyErr}
			r := gin.New()
			r.POST("/pubsub/ledger-sync", LedgerSyncPushHandler(applier, config.GetLogger()))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/pubsub/ledger-sync", bytes.NewReader(tt.body)))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if len(applier.msgs) != tt.wantCalls {
				t.Fatalf("apply calls = %d, want %d", len(applier.msgs), tt.wantCalls)
			}
			if tt.wantCalls > 0 && applier.msgs[0].CorrelationId != "m-1" {
				t.Fatalf("correlation id = %q, want message id", applier.msgs[0].CorrelationId)
			}
		})
	}
}

type fakeRequeuer struct {
	err        error
	businessId string
	id         int
}

func (f *fakeRequeuer) Requeue(_ context.Context, businessId string, id int) (int64, error) {
	f.businessId, f.id = businessId, id
	if f.err != nil {
		return 0, f.err
	}
	return 1, nil
}

func TestOutboxReplayHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"requeued", nil, http.StatusOK},
		{"not replayable", models.ErrOutboxRecordNotReplayable, http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outbox := &fakeRequeuer{err: tt.err}
			r := gin.New()
			r.POST("/internal/ops/outbox/replay", asOperator("biz-9", "op-1"), OutboxReplayHandler(outbox))
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/ops/outbox/replay", bytes.NewBufferString(`{"record_id":7}`)))
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if outbox.businessId != "biz-9" || outbox.id != 7 {
				t.Fatalf("requeue called with %q/%d", outbox.businessId, outbox.id)
			}
		})
	}

	r := gin.New()
	r.POST("/internal/ops/outbox/replay", OutboxReplayHandler(&fakeRequeuer{}))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/internal/ops/outbox/replay", bytes.NewBufferString(`{}`)))
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("without business: %d", w.Code)
	}
}

var _ middlewares.RegisterReader = (*memstore.RegisterStore)(nil)

func TestPubSubPushAuth(t *testing.T) {
	validate := func(_ context.Context, token string, audience string) (*idtoken.Payload, error) {
		if audience != "https://hq.example.com/pubsub/ledger-sync" {
			return nil, fmt.Errorf("audience %q", audience)
		}
		switch token {
		case "good":
			return &idtoken.Payload{Claims: map[string]interface{}{"email": "push@proj.iam.gserviceaccount.com", "email_verified": true}}, nil
		case "other-sa":
			return &idtoken.Payload{Claims: map[string]interface{}{"email": "someone@proj.iam.gserviceaccount.com", "email_verified": true}}, nil
		}
		return nil, errors.New("idtoken: invalid token")
	}
	cfg := PushAuthConfig{
		Audience:       "https://hq.example.com/pubsub/ledger-sync",
		ServiceAccount: "push@proj.iam.gserviceaccount.com",
		Validate:       validate,
	}
	msg, _ := json.Marshal(config.LedgerSyncMessage{BusinessId: "biz-1", RegisterId: 1, EventUid: "uid-1", Kind: "Open"})

	tests := []struct {
		name      string
		cfg       PushAuthConfig
		header    string
		want      int
		wantCalls int
	}{
		{"valid token", cfg, "Bearer good", http.StatusNoContent, 1},
		{"no header", cfg, "", http.StatusUnauthorized, 0},
		{"not bearer", cfg, "good", http.StatusUnauthorized, 0},
		{"forged token", cfg, "Bearer forged", http.StatusUnauthorized, 0},
		{"wrong service account", cfg, "Bearer other-sa", http.StatusForbidden, 0},
		{"no audience configured", PushAuthConfig{Validate: validate}, "Bearer good", http.StatusUnauthorized, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			applier := &recordingApplier{}
			r := gin.New()
			r.POST("/pubsub/ledger-sync", PubSubPushAuth(tt.cfg, config.GetLogger()), LedgerSyncPushHandler(applier, config.GetLogger()))
			req := httptest.NewRequest(http.MethodPost, "/pubsub/ledger-sync", bytes.NewReader(pushBody(t, msg)))
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if len(applier.msgs) != tt.wantCalls {
				t.Fatalf("apply calls = %d, want %d", len(applier.msgs), tt.wantCalls)
			}
		})
	}
}
