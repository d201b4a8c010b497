// Package api exposes the register registry and the cash ledger over HTTP.
package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/cashier_backend/authgate"
	"github.com/mmdatafocus/cashier_backend/ledger"
	"github.com/mmdatafocus/cashier_backend/middlewares"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/registry"
	"github.com/mmdatafocus/cashier_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

type Handler struct {
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	// Gate is optional; without it supervisor credentials on close are rejected.
	Gate *authgate.Gate
	// Registers backs the register-name loader when LoaderMiddleware is not installed.
	Registers middlewares.RegisterReader
	Logger    *logrus.Logger
}

// Routes mounts the authenticated API. The group must already carry AuthMiddleware.
func (h *Handler) Routes(rg *gin.RouterGroup) {
	rg.POST("/registers", h.createRegister)
	rg.GET("/registers", h.listRegisters)
	rg.GET("/registers/:id", h.getRegister)
	rg.PUT("/registers/:id", h.updateRegister)
	rg.DELETE("/registers/:id", h.deleteRegister)
	rg.POST("/registers/:id/operator", h.assignOperator)
	rg.DELETE("/registers/:id/operator", h.unassignOperator)

	rg.POST("/registers/:id/open", h.openRegister)
	rg.POST("/registers/:id/deposit", h.deposit)
	rg.POST("/registers/:id/withdraw", h.withdraw)
	rg.POST("/registers/:id/close", h.closeRegister)
	rg.GET("/registers/:id/balance", h.balance)
	rg.GET("/registers/:id/status", h.status)
	rg.GET("/registers/:id/events", h.registerEvents)
	rg.GET("/registers/:id/events/latest", h.latestEvent)
	rg.GET("/operators/:operatorId/events", h.operatorEvents)

	rg.POST("/supervisors", h.createSupervisor)
	rg.POST("/logout", h.logout)
}

type assignOperatorRequest struct {
	OperatorId   string `json:"operator_id" binding:"required,max=64"`
	OperatorName string `json:"operator_name" binding:"max=100"`
}

type openRequest struct {
	OpeningAmount *decimal.Decimal `json:"opening_amount" binding:"required"`
}

type movementRequest struct {
	Amount *decimal.Decimal `json:"amount" binding:"required"`
	Reason *string          `json:"reason" binding:"omitempty,max=255"`
}

// closeRequest takes either supervisor credentials or a free-text authorizer.
type closeRequest struct {
	CountedAmount     *decimal.Decimal `json:"counted_amount" binding:"required"`
	DiscrepancyReason *string          `json:"discrepancy_reason"`
	AuthorizedBy      *string          `json:"authorized_by" binding:"omitempty,max=255"`
	SupervisorCode    string           `json:"supervisor_code" binding:"omitempty,max=50"`
	SupervisorPin     string           `json:"supervisor_pin" binding:"required_with=SupervisorCode"`
}

type eventView struct {
	*models.LedgerEvent
	RegisterName string `json:"register_name"`
}

func registerIdParam(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid register id"})
		return 0, false
	}
	return id, true
}

func operatorFromContext(c *gin.Context) (string, bool) {
	operatorId, ok := utils.GetOperatorIdFromContext(c.Request.Context())
	if !ok || operatorId == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return "", false
	}
	return operatorId, true
}

func (h *Handler) createRegister(c *gin.Context) {
	var req models.NewCashRegister
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	register, err := h.Registry.CreateRegister(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, register)
}

func (h *Handler) listRegisters(c *gin.Context) {
	var (
		registers []*models.CashRegister
		err       error
	)
	if available, _ := strconv.ParseBool(c.Query("available")); available {
		registers, err = h.Registry.ListAvailable(c.Request.Context())
	} else {
		registers, err = h.Registry.ListRegisters(c.Request.Context())
	}
	if err != nil {
		writeError(c, err)
		return
	}
	if registers == nil {
		registers = []*models.CashRegister{}
	}
	c.JSON(http.StatusOK, registers)
}

func (h *Handler) getRegister(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	register, err := h.Registry.GetRegister(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, register)
}

func (h *Handler) updateRegister(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	var req models.UpdateCashRegister
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	register, err := h.Registry.UpdateRegister(c.Request.Context(), id, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, register)
}

func (h *Handler) deleteRegister(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	deleted, err := h.Registry.DeleteRegister(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": deleted})
}

func (h *Handler) assignOperator(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	var req assignOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	register, err := h.Registry.AssignOperator(c.Request.Context(), id, req.OperatorId, strings.TrimSpace(req.OperatorName))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, register)
}

func (h *Handler) unassignOperator(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	register, err := h.Registry.UnassignOperator(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, register)
}

func (h *Handler) openRegister(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	operatorId, ok := operatorFromContext(c)
	if !ok {
		return
	}
	var req openRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	ev, err := h.Ledger.OpenRegister(c.Request.Context(), id, operatorId, *req.OpeningAmount)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *Handler) deposit(c *gin.Context) {
	h.movement(c, h.Ledger.Deposit)
}

func (h *Handler) withdraw(c *gin.Context) {
	h.movement(c, h.Ledger.Withdraw)
}

type movementFunc func(ctx context.Context, registerId int, operatorId string, amount decimal.Decimal, reason *string) (*models.LedgerEvent, error)

func (h *Handler) movement(c *gin.Context, apply movementFunc) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	operatorId, ok := operatorFromContext(c)
	if !ok {
		return
	}
	var req movementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	ev, err := apply(c.Request.Context(), id, operatorId, *req.Amount, req.Reason)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *Handler) closeRegister(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	operatorId, ok := operatorFromContext(c)
	if !ok {
		return
	}
	var req closeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}

	authorizedBy := req.AuthorizedBy
	if req.SupervisorCode != "" {
		if h.Gate == nil {
			writeError(c, authgate.ErrUnauthorized)
			return
		}
		name, err := h.Gate.Authorize(c.Request.Context(), req.SupervisorCode, req.SupervisorPin)
		if err != nil {
			writeError(c, err)
			return
		}
		authorizedBy = &name
	}

	ev, err := h.Ledger.CloseRegister(c.Request.Context(), ledger.CloseInput{
		RegisterId:        id,
		OperatorId:        operatorId,
		CountedAmount:     *req.CountedAmount,
		DiscrepancyReason: req.DiscrepancyReason,
		AuthorizedBy:      authorizedBy,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, ev)
}

func (h *Handler) balance(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	session, err := h.Ledger.Session(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"register_id": id,
		"balance":     session.Balance(),
		"is_open":     session.IsOpen(),
	})
}

func (h *Handler) status(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	session, err := h.Ledger.Session(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, session)
}

func (h *Handler) registerEvents(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	events, err := h.Ledger.EventsForRegister(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []*models.LedgerEvent{}
	}
	c.JSON(http.StatusOK, events)
}

func (h *Handler) latestEvent(c *gin.Context) {
	id, ok := registerIdParam(c)
	if !ok {
		return
	}
	ev, err := h.Ledger.LatestEvent(c.Request.Context(), id)
	if err != nil {
		writeError(c, err)
		return
	}
	if ev == nil {
		c.Status(http.StatusNoContent)
		return
	}
	c.JSON(http.StatusOK, ev)
}

// operatorEvents lists everything an operator did across registers. Register names
// are batched through the register loader; a register the store no longer returns
// shows an empty name.
func (h *Handler) operatorEvents(c *gin.Context) {
	ctx := c.Request.Context()
	events, err := h.Ledger.EventsForOperator(ctx, c.Param("operatorId"))
	if err != nil {
		writeError(c, err)
		return
	}
	if middlewares.For(ctx) == nil {
		ctx = middlewares.WithLoaders(ctx, middlewares.NewLoaders(h.Registers))
	}

	seen := make(map[int]bool)
	ids := make([]int, 0)
	for _, ev := range events {
		if !seen[ev.RegisterId] {
			seen[ev.RegisterId] = true
			ids = append(ids, ev.RegisterId)
		}
	}
	registers, errs := middlewares.GetRegisters(ctx, ids)
	for _, err := range errs {
		if err != nil {
			writeError(c, err)
			return
		}
	}
	names := make(map[int]string, len(ids))
	for i, register := range registers {
		if register != nil {
			names[ids[i]] = register.Name
		}
	}

	views := make([]eventView, 0, len(events))
	for _, ev := range events {
		views = append(views, eventView{LedgerEvent: ev, RegisterName: names[ev.RegisterId]})
	}
	c.JSON(http.StatusOK, views)
}

// createSupervisor is admin only; a cashier who could register a supervisor could
// authorize their own shortage.
func (h *Handler) createSupervisor(c *gin.Context) {
	if h.Gate == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
		return
	}
	if !utils.GetIsAdminFromContext(c.Request.Context()) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only admins can register supervisors"})
		return
	}
	var req authgate.NewSupervisor
	if err := c.ShouldBindJSON(&req); err != nil {
		writeBindError(c, err)
		return
	}
	supervisor, err := h.Gate.RegisterSupervisor(c.Request.Context(), &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, supervisor)
}

func (h *Handler) logout(c *gin.Context) {
	token, ok := utils.GetTokenFromContext(c.Request.Context())
	if !ok || token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if err := middlewares.RevokeToken(c.Request.Context(), token); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
