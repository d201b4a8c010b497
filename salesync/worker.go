// Package salesync pulls completed till sales from the external POS API into the
// local pos_sales table, where the ledger reads their cash tender.
package salesync

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mmdatafocus/cashier_backend/config"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/sirupsen/logrus"
)

type SaleWriter interface {
	UpsertPosSale(ctx context.Context, sale *models.PosSale) error
}

type RegisterLister interface {
	ListCashRegisters(ctx context.Context, onlyAvailable bool) ([]*models.CashRegister, error)
}

// CursorStore persists the per-business sync position.
type CursorStore interface {
	LoadCursor(ctx context.Context, businessId string) (CursorEntry, error)
	SaveCursor(ctx context.Context, businessId string, cursor CursorEntry) error
}

type Syncer struct {
	client    *posClient
	sales     SaleWriter
	registers RegisterLister
	cursors   CursorStore
	logger    *logrus.Logger
	salesPath string
	pageSize  int
	lookback  time.Duration
	now       func() time.Time
}

func NewSyncer(cfg ClientConfig, sales SaleWriter, registers RegisterLister, cursors CursorStore, logger *logrus.Logger) (*Syncer, error) {
	client, err := newPosClient(cfg)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = config.GetLogger()
	}
	salesPath := strings.TrimSpace(os.Getenv("POS_SALES_PATH"))
	if salesPath == "" {
		salesPath = "/v1/sales"
	}
	return &Syncer{
		client:    client,
		sales:     sales,
		registers: registers,
		cursors:   cursors,
		logger:    logger,
		salesPath: salesPath,
		pageSize:  config.IntFromEnv("POS_SALES_PAGE_SIZE", 200),
		lookback:  time.Duration(config.IntFromEnv("POS_SALES_LOOKBACK_HOURS", 24)) * time.Hour,
		now:       func() time.Time { return time.Now().UTC() },
	}, nil
}

// SyncOnce pages through sales updated since the stored cursor. Bad records are
// collected in Result.Errors and skipped; the cursor only advances past pages that
// were fully read.
func (s *Syncer) SyncOnce(ctx context.Context, businessId string) (Result, error) {
	result := Result{BusinessId: businessId}
	if businessId == "" {
		return result, errors.New("business id is required")
	}
	ctx = utils.SetBusinessIdInContext(ctx, businessId)

	registerIds, err := s.registerIdsByNumber(ctx)
	if err != nil {
		return result, err
	}
	cursor, err := s.cursors.LoadCursor(ctx, businessId)
	if err != nil {
		return result, err
	}
	if strings.TrimSpace(cursor.UpdatedSince) == "" {
		cursor.UpdatedSince = s.now().Add(-s.lookback).Format(time.RFC3339)
	}
	startedAt := s.now()
	newestSeen := cursor.UpdatedSince

	for {
		params := url.Values{}
		params.Set("updated_since", cursor.UpdatedSince)
		if cursor.Cursor != "" {
			params.Set("cursor", cursor.Cursor)
		}
		params.Set("limit", strconv.Itoa(s.pageSize))

		resp, err := s.client.getList(ctx, s.salesPath, params)
		if err != nil {
			result.Cursor = cursor
			return result, err
		}

		for _, raw := range resp.records() {
			extId, updatedAt, syncErr := s.syncSale(ctx, businessId, registerIds, raw)
			if syncErr != nil {
				result.Errors = append(result.Errors, *syncErr)
				continue
			}
			if extId != "" {
				result.Synced++
			}
			if updatedAt > newestSeen {
				newestSeen = updatedAt
			}
		}

		if !resp.more() {
			break
		}
		cursor.Cursor = resp.NextCursor
		if err := s.cursors.SaveCursor(ctx, businessId, cursor); err != nil {
			config.LogError(s.logger, "worker.go", "SyncOnce", "Saving sales sync cursor", cursor, err)
		}
	}

	// Start the next run at the newest record seen, never later than when this run began.
	next := newestSeen
	if next > startedAt.Format(time.RFC3339) {
		next = startedAt.Format(time.RFC3339)
	}
	cursor = CursorEntry{UpdatedSince: next}
	if err := s.cursors.SaveCursor(ctx, businessId, cursor); err != nil {
		return result, err
	}
	result.Cursor = cursor

	s.logger.WithFields(logrus.Fields{
		"field":       "SalesSync",
		"business_id": businessId,
		"synced":      result.Synced,
		"errors":      len(result.Errors),
		"cursor":      cursor.UpdatedSince,
	}).Info("sales sync finished")
	return result, nil
}

// syncSale returns the external id of a stored sale, "" for a skipped one.
func (s *Syncer) syncSale(ctx context.Context, businessId string, registerIds map[string]int, raw json.RawMessage) (string, string, *SyncError) {
	var sale posSale
	if err := json.Unmarshal(raw, &sale); err != nil {
		return "", "", &SyncError{Code: "invalid_payload", Message: err.Error()}
	}
	extId := strings.TrimSpace(sale.ID)
	if extId == "" {
		return "", "", &SyncError{Code: "missing_id", Message: "sale id missing"}
	}
	updatedAt := normalizeTimestamp(sale.UpdatedAt)

	registerId, ok := registerIds[strings.TrimSpace(sale.RegisterNumber)]
	if !ok {
		return "", "", &SyncError{ExternalId: extId, Code: "register_missing", Message: "no register numbered " + sale.RegisterNumber, Retryable: true}
	}
	row, err := toPosSale(businessId, registerId, sale)
	if errors.Is(err, errSaleNotCompleted) {
		return "", updatedAt, nil
	}
	if err != nil {
		return "", "", &SyncError{ExternalId: extId, Code: "mapping_failed", Message: err.Error()}
	}
	if err := s.sales.UpsertPosSale(ctx, row); err != nil {
		return "", "", &SyncError{ExternalId: extId, Code: "upsert_failed", Message: err.Error(), Retryable: true}
	}
	return extId, updatedAt, nil
}

func (s *Syncer) registerIdsByNumber(ctx context.Context) (map[string]int, error) {
	registers, err := s.registers.ListCashRegisters(ctx, false)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int, len(registers))
	for _, r := range registers {
		out[r.RegisterNumber] = r.ID
	}
	return out, nil
}

// Run syncs every business in turn until ctx is done.
func (s *Syncer) Run(ctx context.Context, businessIds []string, interval time.Duration) {
	for {
		for _, businessId := range businessIds {
			if ctx.Err() != nil {
				return
			}
			if _, err := s.SyncOnce(ctx, businessId); err != nil {
				config.LogError(s.logger, "worker.go", "Run", "Syncing POS sales", businessId, err)
			}
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}
	}
}

func normalizeTimestamp(value string) string {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(value))
	if err != nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
