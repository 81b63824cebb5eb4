package registry

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"concord/internal/constants"
	"concord/internal/logger"
	"concord/pkg/errors"
)

type Handler struct {
	service Service
	logger  logger.Logger
}

func NewHandler(service Service, log logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	v1 := router.Group("/api/v1")
	{
		identities := v1.Group("/identities")
		{
			identities.GET("", h.ListIdentities)
			identities.POST("", h.CreateIdentity)
			identities.GET("/:tenant_id/:agent_id", h.GetIdentity)
			identities.PUT("/:tenant_id/:agent_id", h.UpdateIdentity)
			identities.DELETE("/:tenant_id/:agent_id", h.DeleteIdentity)
		}

		rules := v1.Group("/rules/escalation")
		{
			rules.GET("", h.ListEscalationRules)
			rules.POST("", h.CreateEscalationRule)
			rules.GET("/:id", h.GetEscalationRule)
			rules.PUT("/:id", h.UpdateEscalationRule)
			rules.DELETE("/:id", h.DeleteEscalationRule)
		}

		changes := v1.Group("/changes")
		{
			changes.GET("", h.ListChanges)
		}
	}
}

func (h *Handler) handleError(c *gin.Context, err error) {
	h.logger.ErrorwCtx(c.Request.Context(), "Request error", "error", err, "path", c.Request.URL.Path)

	status := errors.ToHTTPStatus(err)
	response := errors.ToErrorResponse(err)

	c.JSON(status, response)
}

func (h *Handler) CreateIdentity(c *gin.Context) {
	var req CreateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	identity, err := h.service.CreateIdentity(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, identity)
}

func (h *Handler) ListIdentities(c *gin.Context) {
	identities, err := h.service.ListIdentities(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, identities)
}

func (h *Handler) GetIdentity(c *gin.Context) {
	identity, err := h.service.GetIdentity(c.Request.Context(), c.Param("tenant_id"), c.Param("agent_id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, identity)
}

func (h *Handler) UpdateIdentity(c *gin.Context) {
	var req UpdateIdentityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	identity, err := h.service.UpdateIdentity(c.Request.Context(), c.Param("tenant_id"), c.Param("agent_id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, identity)
}

func (h *Handler) DeleteIdentity(c *gin.Context) {
	if err := h.service.DeleteIdentity(c.Request.Context(), c.Param("tenant_id"), c.Param("agent_id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) CreateEscalationRule(c *gin.Context) {
	var req CreateEscalationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.service.CreateEscalationRule(c.Request.Context(), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusCreated, rule)
}

func (h *Handler) ListEscalationRules(c *gin.Context) {
	rules, err := h.service.ListEscalationRules(c.Request.Context())
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rules)
}

func (h *Handler) GetEscalationRule(c *gin.Context) {
	rule, err := h.service.GetEscalationRule(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, rule)
}

func (h *Handler) UpdateEscalationRule(c *gin.Context) {
	var req UpdateEscalationRuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errors.ToErrorResponse(errors.ErrValidation.WithCause(err)))
		return
	}

	rule, err := h.service.UpdateEscalationRule(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		h.handleError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

func (h *Handler) DeleteEscalationRule(c *gin.Context) {
	if err := h.service.DeleteEscalationRule(c.Request.Context(), c.Param("id")); err != nil {
		h.handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) ListChanges(c *gin.Context) {
	subjectID := c.Query("subject_id")
	entityType := c.Query("entity_type")
	limit := parseLimit(c.Query("limit"))

	var subjectIDPtr *string
	if subjectID != "" {
		subjectIDPtr = &subjectID
	}

	entries, err := h.service.ListChanges(c.Request.Context(), subjectIDPtr, entityType, limit)
	if err != nil {
		h.handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, entries)
}

func parseLimit(limitStr string) int {
	if limitStr == "" {
		return constants.DefaultLimit
	}
	parsed, err := strconv.Atoi(limitStr)
	if err != nil || parsed <= 0 || parsed > constants.MaxLimit {
		return constants.DefaultLimit
	}
	return parsed
}
