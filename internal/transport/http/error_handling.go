package httpt

import (
	"errors"
	"net/http"

	"eventdelivery/internal/entity"

	"github.com/gin-gonic/gin"
	"github.com/wb-go/wbf/logger"
)

func (h *DeliveryHandler) handleServiceError(c *gin.Context, op string, err error) {
	ctx := c.Request.Context()
	log := h.log.Ctx(ctx)

	switch {
	case errors.Is(err, entity.ErrDataNotFound), errors.Is(err, entity.ErrSubscriptionNotFound):
		log.LogAttrs(ctx, logger.WarnLevel, "resource not found",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusNotFound, "not_found", "Resource not found", err)

	case errors.Is(err, entity.ErrSubscriptionInactive):
		log.LogAttrs(ctx, logger.WarnLevel, "subscription inactive",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusConflict, "inactive",
			"Subscription is deactivated", err)

	case errors.Is(err, entity.ErrInvalidData):
		log.LogAttrs(ctx, logger.WarnLevel, "invalid data",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusBadRequest, "invalid_data", "Invalid input data", err)

	case errors.Is(err, entity.ErrConflictingData):
		log.LogAttrs(ctx, logger.WarnLevel, "conflicting data",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusConflict, "conflict", "Data conflict occurred", err)

	default:
		log.LogAttrs(ctx, logger.ErrorLevel, "internal server error",
			logger.String("op", op),
			logger.Any("error", err),
		)
		h.respondError(c, http.StatusInternalServerError, "internal_error",
			"Internal server error occurred", err)
	}
}

func (h *DeliveryHandler) respondError(c *gin.Context, status int, code, message string, err error) {
	resp := ErrorResponse{Error: message, Code: code}
	if status < http.StatusInternalServerError && err != nil {
		resp.Details = err.Error()
	}
	c.JSON(status, resp)
}

func (h *DeliveryHandler) handleInvalidUUID(c *gin.Context, op, raw string) {
	h.log.Ctx(c.Request.Context()).LogAttrs(c.Request.Context(), logger.WarnLevel, "invalid uuid",
		logger.String("op", op),
		logger.String("value", raw),
	)
	h.respondError(c, http.StatusBadRequest, "invalid_id", "Invalid UUID format", nil)
}
