// Package handler exposes onboarding wizard sessions over HTTP.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"nutrition-platform/backend/internal/onboarding/domain"
	"nutrition-platform/backend/internal/onboarding/engine"
	"nutrition-platform/backend/internal/onboarding/stepdata"
	"nutrition-platform/backend/internal/onboarding/wizard"
	"nutrition-platform/backend/internal/server/middleware"
)

// StepLister lists the step definitions of a role.
type StepLister interface {
	Definitions(role domain.Role) []domain.StepDefinition
}

type Handler struct {
	sessions *Sessions
	steps    StepLister
	logger   *zap.Logger
}

func NewHandler(sessions *Sessions, steps StepLister, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{sessions: sessions, steps: steps, logger: logger}
}

// RegisterRoutes mounts the onboarding routes on r. r must already run an auth middleware.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/steps/:role", h.listSteps)
	r.POST("/sessions", h.openSession)

	s := r.Group("/sessions/:id")
	{
		s.GET("", h.getSession)
		s.DELETE("", h.closeSession)
		s.POST("/data", h.update)
		s.POST("/next", h.next)
		s.POST("/previous", h.previous)
		s.POST("/skip", h.skip)
		s.POST("/jump", h.jump)
		s.POST("/edit", h.edit)
		s.POST("/finalize", h.finalize)
		s.POST("/reset", h.reset)
	}
}

type openRequest struct {
	Role domain.Role `json:"role"`
}

type openResponse struct {
	SessionID string       `json:"sessionId"`
	View      *wizard.View `json:"view"`
}

type stepDataRequest struct {
	StepID domain.StepID   `json:"stepId"`
	Data   json.RawMessage `json:"data"`
}

type skipRequest struct {
	Reason string `json:"reason" binding:"max=500"`
}

type jumpRequest struct {
	StepID domain.StepID `json:"stepId" binding:"required"`
}

// listSteps handles GET /steps/:role
func (h *Handler) listSteps(c *gin.Context) {
	role := domain.Role(c.Param("role"))
	if !role.Valid() {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown role"})
		return
	}
	defs := h.steps.Definitions(role)
	if defs == nil {
		defs = []domain.StepDefinition{}
	}
	c.JSON(http.StatusOK, gin.H{"role": role, "steps": defs})
}

// openSession handles POST /sessions. The role defaults to the caller's token role and may not
// differ from it.
func (h *Handler) openSession(c *gin.Context) {
	id := middleware.Identity(c)
	var req openRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	role := req.Role
	if role == "" {
		role = id.Role
	}
	if role != id.Role {
		c.JSON(http.StatusForbidden, gin.H{"error": "role does not match the authenticated user"})
		return
	}
	sessionID, v, err := h.sessions.Open(c.Request.Context(), id.UserID, role)
	if err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.JSON(http.StatusCreated, openResponse{SessionID: sessionID, View: v})
}

// getSession handles GET /sessions/:id
func (h *Handler) getSession(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, ctrl.View())
}

// closeSession handles DELETE /sessions/:id
func (h *Handler) closeSession(c *gin.Context) {
	if err := h.sessions.Close(c.Param("id"), middleware.Identity(c).UserID); err != nil {
		h.writeError(c, err, nil)
		return
	}
	c.Status(http.StatusNoContent)
}

// update handles POST /sessions/:id/data
func (h *Handler) update(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	data, ok := h.bindStepData(c, ctrl)
	if !ok {
		return
	}
	h.respond(c)(ctrl.Update(c.Request.Context(), data))
}

// next handles POST /sessions/:id/next
func (h *Handler) next(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	data, ok := h.bindStepData(c, ctrl)
	if !ok {
		return
	}
	h.respond(c)(ctrl.Next(c.Request.Context(), data))
}

// previous handles POST /sessions/:id/previous
func (h *Handler) previous(c *gin.Context) {
	if ctrl, ok := h.controller(c); ok {
		h.respond(c)(ctrl.Previous(c.Request.Context()))
	}
}

// skip handles POST /sessions/:id/skip
func (h *Handler) skip(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req skipRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	h.respond(c)(ctrl.Skip(c.Request.Context(), req.Reason))
}

// jump handles POST /sessions/:id/jump
func (h *Handler) jump(c *gin.Context) {
	ctrl, ok := h.controller(c)
	if !ok {
		return
	}
	var req jumpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.respond(c)(ctrl.JumpTo(c.Request.Context(), req.StepID))
}

// edit handles POST /sessions/:id/edit
func (h *Handler) edit(c *gin.Context) {
	if ctrl, ok := h.controller(c); ok {
		h.respond(c)(ctrl.Edit(c.Request.Context()))
	}
}

// finalize handles POST /sessions/:id/finalize
func (h *Handler) finalize(c *gin.Context) {
	if ctrl, ok := h.controller(c); ok {
		h.respond(c)(ctrl.Finalize(c.Request.Context()))
	}
}

// reset handles POST /sessions/:id/reset
func (h *Handler) reset(c *gin.Context) {
	if ctrl, ok := h.controller(c); ok {
		h.respond(c)(ctrl.Reset(c.Request.Context()))
	}
}

func (h *Handler) controller(c *gin.Context) (*wizard.Controller, bool) {
	ctrl, err := h.sessions.Get(c.Param("id"), middleware.Identity(c).UserID)
	if err != nil {
		h.writeError(c, err, nil)
		return nil, false
	}
	return ctrl, true
}

// bindStepData decodes the request payload into the shape of the step it names, defaulting to the
// step currently shown. Only the keys present in the body are merged. An empty body yields a nil
// payload.
func (h *Handler) bindStepData(c *gin.Context, ctrl *wizard.Controller) (stepdata.Payload, bool) {
	var req stepDataRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return nil, false
		}
	}
	if len(req.Data) == 0 {
		return nil, true
	}
	stepID := req.StepID
	if stepID == "" {
		if v := ctrl.View(); v != nil {
			stepID = v.CurrentStep.ID
		}
	}
	data, err := stepdata.DecodePatch(stepID, req.Data)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	return data, true
}

func (h *Handler) respond(c *gin.Context) func(*wizard.View, error) {
	return func(v *wizard.View, err error) {
		if err != nil {
			h.writeError(c, err, v)
			return
		}
		c.JSON(http.StatusOK, v)
	}
}

// writeError maps onboarding errors to HTTP statuses. A failed submission still returns the view so
// the client keeps its form data and can retry.
func (h *Handler) writeError(c *gin.Context, err error, v *wizard.View) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("onboarding request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	body := gin.H{"error": err.Error()}
	if v != nil {
		body["view"] = v
	}
	c.JSON(status, body)
}

func statusOf(err error) int {
	var subErr *wizard.SubmissionError
	switch {
	case errors.As(err, &subErr):
		return http.StatusBadGateway
	case domain.IsConfigurationError(err):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrSessionNotFound), errors.Is(err, domain.ErrUnknownStep):
		return http.StatusNotFound
	case errors.Is(err, wizard.ErrNavigationDenied):
		return http.StatusForbidden
	case errors.Is(err, wizard.ErrSubmitting), errors.Is(err, wizard.ErrFinalized),
		errors.Is(err, wizard.ErrClosed), errors.Is(err, engine.ErrPayloadMismatch):
		return http.StatusConflict
	case errors.Is(err, wizard.ErrValidation), errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrStepNotSkippable), errors.Is(err, wizard.ErrAtFirstStep),
		errors.Is(err, wizard.ErrNotFinalizable):
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}
