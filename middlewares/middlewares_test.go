package middlewares

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cashier_backend/memstore"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestAuthMiddleware(t *testing.T) {
	r := gin.New()
	r.Use(AuthMiddleware())
	r.GET("/whoami", func(c *gin.Context) {
		biz, _ := utils.GetBusinessIdFromContext(c.Request.Context())
		op, _ := utils.GetOperatorIdFromContext(c.Request.Context())
		name, _ := utils.GetOperatorNameFromContext(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"business": biz, "operator": op, "name": name})
	})

	token, err := utils.JwtGenerate("biz-1", "op-7", "Aye Aye", false)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"not bearer", "Token " + token, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def.ghi", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/whoami", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d (%s)", w.Code, tt.want, w.Body.String())
			}
			if tt.want == http.StatusOK && w.Body.String() != `{"business":"biz-1","name":"Aye Aye","operator":"op-7"}` {
				t.Fatalf("body = %s", w.Body.String())
			}
		})
	}
}

type countingReader struct {
	*memstore.RegisterStore
	mu      sync.Mutex
	batches [][]int
}

func (r *countingReader) GetCashRegistersByIds(ctx context.Context, ids []int) ([]*models.CashRegister, error) {
	r.mu.Lock()
	r.batches = append(r.batches, append([]int(nil), ids...))
	r.mu.Unlock()
	return r.RegisterStore.GetCashRegistersByIds(ctx, ids)
}

func TestRegisterLoader_BatchesAndToleratesMissing(t *testing.T) {
	store := memstore.NewRegisterStore()
	for _, n := range []string{"R1", "R2"} {
		if err := store.CreateCashRegister(context.Background(), &models.CashRegister{Name: n, RegisterNumber: n}); err != nil {
			t.Fatalf("CreateCashRegister: %v", err)
		}
	}
	reader := &countingReader{RegisterStore: store}
	ctx := WithLoaders(context.Background(), NewLoaders(reader))

	registers, errs := GetRegisters(ctx, []int{1, 2, 99})
	for _, err := range errs {
		if err != nil {
			t.Fatalf("LoadMany: %v", err)
		}
	}
	if len(registers) != 3 || registers[0].RegisterNumber != "R1" || registers[1].RegisterNumber != "R2" || registers[2] != nil {
		t.Fatalf("registers = %+v", registers)
	}
	if len(reader.batches) != 1 {
		t.Fatalf("expected one batch, got %v", reader.batches)
	}

	// cached by the loader
	if r, err := GetRegister(ctx, 2); err != nil || r.RegisterNumber != "R2" {
		t.Fatalf("GetRegister = %+v, %v", r, err)
	}
	if len(reader.batches) != 1 {
		t.Fatalf("second load hit the store again")
	}
}
