// Package gateway exposes the generation service over HTTP and streams
// progress over websockets.
package gateway

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/auth"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/logging"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/models"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/orchestration"
	"github.com/bizmatters/agent-builder/codegen-orchestrator/internal/projects"
)

// GenerationService is what the handlers need from projects.Service.
type GenerationService interface {
	CreateProject(ctx context.Context, name, description, userID string) (*models.Project, error)
	GetProject(ctx context.Context, projectID, userID string) (*models.Project, models.ProjectSnapshot, error)
	StartGeneration(ctx context.Context, projectID, userID, prompt string) (*models.Generation, error)
	GetGeneration(ctx context.Context, generationID, userID string) (*models.Generation, error)
}

// Handler handles HTTP requests for the gateway layer
type Handler struct {
	service    GenerationService
	users      projects.UserStore
	jwtManager *auth.JWTManager
	logger     *logging.Logger
}

// NewHandler creates a new gateway handler
func NewHandler(service GenerationService, users projects.UserStore, jwtManager *auth.JWTManager, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{
		service:    service,
		users:      users,
		jwtManager: jwtManager,
		logger:     logger,
	}
}

// Login godoc
// @Summary User login
// @Description Authenticate user and return JWT token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body models.LoginRequest true "Login credentials"
// @Success 200 {object} models.LoginResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (h *Handler) Login(c *gin.Context) {
	ctx := c.Request.Context()

	var req models.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}

	user, err := h.users.FindUserByEmail(ctx, req.Email)
	if err != nil {
		if !errors.Is(err, projects.ErrUserNotFound) {
			h.logger.Error(ctx, "Failed to look up user", zap.Error(err))
		}
		respond(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid email or password")
		return
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.HashedPassword), []byte(req.Password)); err != nil {
		h.logger.Warn(ctx, "Invalid password", zap.String("user_id", user.ID))
		respond(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Invalid email or password")
		return
	}

	token, expires, err := h.jwtManager.GenerateToken(ctx, user.ID, user.Email, user.Roles)
	if err != nil {
		h.logger.Error(ctx, "Failed to generate token", zap.Error(err))
		respond(c, http.StatusInternalServerError, models.ErrCodeInternalError, "Failed to generate token")
		return
	}

	c.JSON(http.StatusOK, models.LoginResponse{
		Token:     token,
		ExpiresAt: expires,
		User:      user.ToUserInfo(),
	})
}

// CreateProjectRequest represents a project creation request
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
}

// CreateProject godoc
// @Summary Create project
// @Description Create an empty project owned by the caller
// @Tags projects
// @Accept json
// @Produce json
// @Param request body CreateProjectRequest true "Project details"
// @Success 201 {object} models.Project
// @Failure 400 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects [post]
func (h *Handler) CreateProject(c *gin.Context) {
	userID, ok := auth.UserID(c)
	if !ok {
		respond(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "User not authenticated")
		return
	}

	var req CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}

	p, err := h.service.CreateProject(c.Request.Context(), req.Name, req.Description, userID)
	if err != nil {
		h.fail(c, "Failed to create project", err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// ProjectResponse is a project with its current conversation and files
type ProjectResponse struct {
	*models.Project
	Snapshot models.ProjectSnapshot `json:"snapshot"`
}

// GetProject godoc
// @Summary Get project
// @Description Get a project with its conversation history and current files
// @Tags projects
// @Produce json
// @Param id path string true "Project ID"
// @Success 200 {object} ProjectResponse
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id} [get]
func (h *Handler) GetProject(c *gin.Context) {
	userID, projectID, ok := h.caller(c, "id")
	if !ok {
		return
	}

	p, snap, err := h.service.GetProject(c.Request.Context(), projectID, userID)
	if err != nil {
		h.fail(c, "Failed to get project", err)
		return
	}
	c.JSON(http.StatusOK, ProjectResponse{Project: p, Snapshot: snap})
}

// StartGenerationRequest represents a generation request
type StartGenerationRequest struct {
	Prompt string `json:"prompt" binding:"required"`
}

// StartGeneration godoc
// @Summary Start generation
// @Description Run the agent team on a prompt. Progress is streamed on /ws/generations/{id}.
// @Tags generations
// @Accept json
// @Produce json
// @Param id path string true "Project ID"
// @Param request body StartGenerationRequest true "Prompt"
// @Success 202 {object} models.Generation
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Failure 503 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /projects/{id}/generations [post]
func (h *Handler) StartGeneration(c *gin.Context) {
	userID, projectID, ok := h.caller(c, "id")
	if !ok {
		return
	}

	var req StartGenerationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid request")
		return
	}

	g, err := h.service.StartGeneration(c.Request.Context(), projectID, userID, req.Prompt)
	if err != nil {
		h.fail(c, "Failed to start generation", err)
		return
	}
	c.JSON(http.StatusAccepted, g)
}

// GetGeneration godoc
// @Summary Get generation
// @Description Get the status and result summary of a generation
// @Tags generations
// @Produce json
// @Param id path string true "Generation ID"
// @Success 200 {object} models.Generation
// @Failure 403 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Security BearerAuth
// @Router /generations/{id} [get]
func (h *Handler) GetGeneration(c *gin.Context) {
	userID, generationID, ok := h.caller(c, "id")
	if !ok {
		return
	}

	g, err := h.service.GetGeneration(c.Request.Context(), generationID, userID)
	if err != nil {
		h.fail(c, "Failed to get generation", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// caller returns the authenticated user and a validated ID path parameter.
// It writes the error response itself.
func (h *Handler) caller(c *gin.Context, param string) (string, string, bool) {
	userID, ok := auth.UserID(c)
	if !ok {
		respond(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "User not authenticated")
		return "", "", false
	}
	id := c.Param(param)
	if _, err := uuid.Parse(id); err != nil {
		respond(c, http.StatusBadRequest, models.ErrCodeInvalidRequest, "Invalid "+param)
		return "", "", false
	}
	return userID, id, true
}

func (h *Handler) fail(c *gin.Context, msg string, err error) {
	writeError(c, h.logger, msg, err)
}

// writeError maps service errors to status codes. Unknown errors are logged
// and reported as msg.
func writeError(c *gin.Context, logger *logging.Logger, msg string, err error) {
	switch {
	case errors.Is(err, projects.ErrProjectNotFound), errors.Is(err, projects.ErrGenerationNotFound):
		respond(c, http.StatusNotFound, models.ErrCodeNotFound, err.Error())
	case errors.Is(err, projects.ErrForbidden):
		respond(c, http.StatusForbidden, models.ErrCodeForbidden, "Access denied")
	case errors.Is(err, projects.ErrGenerationRunning):
		respond(c, http.StatusConflict, models.ErrCodeGenerationRunning, err.Error())
	case errors.Is(err, orchestration.ErrEmptyRequest):
		respond(c, http.StatusBadRequest, models.ErrCodeValidationFailed, err.Error())
	case errors.Is(err, projects.ErrShuttingDown):
		respond(c, http.StatusServiceUnavailable, models.ErrCodeUnavailable, err.Error())
	default:
		logger.Error(c.Request.Context(), msg, zap.Error(err))
		respond(c, http.StatusInternalServerError, models.ErrCodeInternalError, msg)
	}
}

func respond(c *gin.Context, status int, code, message string) {
	c.JSON(status, models.ErrorResponse{Error: message, Code: code})
}
