package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/mmdatafocus/cashier_backend/authgate"
	"github.com/mmdatafocus/cashier_backend/models"
	"github.com/mmdatafocus/cashier_backend/utils"
)

func statusForKind(kind models.LedgerErrorKind) int {
	switch kind {
	case models.ErrorKindRegisterNotFound:
		return http.StatusNotFound
	case models.ErrorKindDuplicateRegisterNumber, models.ErrorKindAlreadyOpen, models.ErrorKindAlreadyAssigned:
		return http.StatusConflict
	case models.ErrorKindRegisterNotOpen, models.ErrorKindInsufficientBalance:
		return http.StatusUnprocessableEntity
	case models.ErrorKindInvalidInput:
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

// writeError renders ledger rejections with their kind; anything else is a 500 and
// goes through the error logger.
func writeError(c *gin.Context, err error) {
	var le *models.LedgerError
	if errors.As(err, &le) {
		c.JSON(statusForKind(le.Kind), gin.H{
			"error":       le.Message,
			"kind":        le.Kind,
			"register_id": le.RegisterId,
		})
		return
	}
	switch {
	case errors.Is(err, authgate.ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
		return
	case errors.Is(err, authgate.ErrDuplicateCode):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case errors.Is(err, authgate.ErrInvalidSupervisor):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	_ = c.Error(err)
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func writeBindError(c *gin.Context, err error) {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "fields": utils.ProcessValidationErrors(err)})
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
}
