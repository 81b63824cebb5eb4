package registry

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"concord/internal/deliberation"
	"concord/internal/logger"
	"concord/pkg/errors"
)

// DeliberationReader exposes the archive the bus writes. The registry never
// writes deliberations; it only serves auditors.
type DeliberationReader interface {
	List(ctx context.Context, tenantID, decision string, limit int) ([]deliberation.ArchivedDeliberation, error)
	Get(ctx context.Context, requestID string) (*deliberation.ArchivedDeliberation, error)
}

type DeliberationHandler struct {
	archive DeliberationReader
	logger  logger.Logger
}

func NewDeliberationHandler(archive DeliberationReader, log logger.Logger) *DeliberationHandler {
	return &DeliberationHandler{
		archive: archive,
		logger:  log,
	}
}

func (h *DeliberationHandler) RegisterRoutes(router *gin.Engine) {
	group := router.Group("/api/v1/deliberations")
	{
		group.GET("", h.List)
		group.GET("/:request_id", h.Get)
	}
}

func (h *DeliberationHandler) List(c *gin.Context) {
	tenantID := c.Query("tenant_id")
	decision := c.Query("decision")
	limit := parseLimit(c.Query("limit"))

	results, err := h.archive.List(c.Request.Context(), tenantID, decision, limit)
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to list archived deliberations", "error", err)
		appErr := errors.ErrInternal.WithCause(err)
		c.JSON(appErr.Status, errors.ToErrorResponse(appErr))
		return
	}
	c.JSON(http.StatusOK, results)
}

func (h *DeliberationHandler) Get(c *gin.Context) {
	result, err := h.archive.Get(c.Request.Context(), c.Param("request_id"))
	if err != nil {
		h.logger.ErrorwCtx(c.Request.Context(), "Failed to load archived deliberation", "error", err)
		appErr := errors.ErrInternal.WithCause(err)
		c.JSON(appErr.Status, errors.ToErrorResponse(appErr))
		return
	}
	if result == nil {
		c.JSON(http.StatusNotFound, errors.ToErrorResponse(errors.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, result)
}
