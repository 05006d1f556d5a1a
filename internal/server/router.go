package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/crosspost/internal/audit"
	"github.com/MarcoPoloResearchLab/crosspost/internal/collectives"
	"github.com/MarcoPoloResearchLab/crosspost/internal/retry"
	"github.com/MarcoPoloResearchLab/crosspost/internal/sharing"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

const actorIDContextKey = "crosspost_actor_id"

var (
	errMissingTokenValidator     = errors.New("token validator dependency required")
	errMissingAssociationService = errors.New("association service dependency required")
	errInvalidAuthorization      = errors.New("authorization header missing or invalid")
)

// TokenValidator resolves a bearer token to the actor id it was issued for.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// AssociationService is the caller-facing association API.
type AssociationService interface {
	ValidatePermissions(ctx context.Context, actorID string, groupIDs []string) (collectives.ValidationResult, error)
	CreateAssociations(ctx context.Context, postID, actorID string, groupIDs []string, settings sharing.Settings) (sharing.Result, error)
	UpdateAssociations(ctx context.Context, postID, actorID string, desiredGroupIDs []string, settings sharing.Settings) (sharing.Result, error)
	GetAssociations(ctx context.Context, postID string) ([]sharing.Association, error)
	RemoveFromGroups(ctx context.Context, postID, actorID string, groupIDs []string) (sharing.RemoveResult, error)
	Health() audit.HealthReport
}

type Dependencies struct {
	TokenValidator     TokenValidator
	AssociationService AssociationService
	Logger             *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenValidator == nil {
		return nil, errMissingTokenValidator
	}
	if deps.AssociationService == nil {
		return nil, errMissingAssociationService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	handler := &httpHandler{
		tokens:       deps.TokenValidator,
		associations: deps.AssociationService,
		logger:       logger,
	}

	router.GET("/health", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/collectives/permissions", handler.handleValidatePermissions)
	protected.POST("/posts/:post_id/collectives", handler.handleCreateAssociations)
	protected.PUT("/posts/:post_id/collectives", handler.handleUpdateAssociations)
	protected.GET("/posts/:post_id/collectives", handler.handleGetAssociations)
	protected.DELETE("/posts/:post_id/collectives", handler.handleRemoveFromGroups)

	return router, nil
}

func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOriginFunc:  func(string) bool { return true },
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	tokens       TokenValidator
	associations AssociationService
	logger       *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	report := h.associations.Health()
	status := http.StatusOK
	if report.Status == audit.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, newHealthPayload(report))
}

func (h *httpHandler) handleValidatePermissions(c *gin.Context) {
	actorID := c.GetString(actorIDContextKey)
	var request permissionsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.associations.ValidatePermissions(c.Request.Context(), actorID, request.GroupIDs)
	if err != nil {
		h.respondServiceError(c, "failed to validate permissions", err)
		return
	}
	c.JSON(http.StatusOK, newValidationPayload(result))
}

func (h *httpHandler) handleCreateAssociations(c *gin.Context) {
	h.handleMutation(c, h.associations.CreateAssociations)
}

func (h *httpHandler) handleUpdateAssociations(c *gin.Context) {
	h.handleMutation(c, h.associations.UpdateAssociations)
}

type mutationFunc func(ctx context.Context, postID, actorID string, groupIDs []string, settings sharing.Settings) (sharing.Result, error)

func (h *httpHandler) handleMutation(c *gin.Context, mutate mutationFunc) {
	actorID := c.GetString(actorIDContextKey)
	var request associationsRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := mutate(c.Request.Context(), c.Param("post_id"), actorID, request.GroupIDs, request.Settings.toSettings())
	if err != nil {
		h.respondServiceError(c, "failed to apply association change", err)
		return
	}
	c.JSON(statusForResult(result.State, result.Errors), newResultPayload(result))
}

func (h *httpHandler) handleGetAssociations(c *gin.Context) {
	postID := c.Param("post_id")
	rows, err := h.associations.GetAssociations(c.Request.Context(), postID)
	if err != nil {
		h.respondServiceError(c, "failed to load associations", err)
		return
	}
	c.JSON(http.StatusOK, listPayload{PostID: postID, Associations: newAssociationPayloads(rows)})
}

func (h *httpHandler) handleRemoveFromGroups(c *gin.Context) {
	actorID := c.GetString(actorIDContextKey)
	groupIDs := c.QueryArray("group_id")
	if len(groupIDs) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	result, err := h.associations.RemoveFromGroups(c.Request.Context(), c.Param("post_id"), actorID, groupIDs)
	if err != nil {
		h.respondServiceError(c, "failed to remove associations", err)
		return
	}
	status := http.StatusOK
	if !result.Success {
		status = statusForKind(result.Errors[0].Kind)
	}
	c.JSON(status, removePayload{
		Success: result.Success,
		Removed: result.Removed,
		Errors:  newGroupErrorPayloads(result.Errors),
	})
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	kind := retry.Classify(err)
	h.logger.Error(message, zap.String("kind", string(kind)), zap.Error(err))

	code := "internal_error"
	var serviceErr *sharing.ServiceError
	if errors.As(err, &serviceErr) {
		code = serviceErr.Code()
	}
	reason := code
	if index := strings.LastIndex(code, "."); index >= 0 {
		reason = code[index+1:]
	}

	status := http.StatusInternalServerError
	switch kind {
	case retry.KindValidation:
		status = http.StatusBadRequest
	case retry.KindPermission:
		status = http.StatusForbidden
	case retry.KindNetwork, retry.KindDatabase:
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{"error": reason, "code": code})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			h.logger.Info("token validation failed", zap.Error(err))
		} else {
			h.logger.Warn("token validation failed", zap.Error(err))
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(actorIDContextKey, subject)
	c.Next()
}

// statusForResult maps a terminal state to a response code; the body always carries the result.
func statusForResult(state sharing.State, failures []sharing.GroupError) int {
	switch state {
	case sharing.StateCommitted:
		return http.StatusOK
	case sharing.StateRejected:
		if len(failures) > 0 {
			return statusForKind(failures[0].Kind)
		}
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func statusForKind(kind retry.Kind) int {
	switch kind {
	case retry.KindValidation:
		return http.StatusBadRequest
	case retry.KindPermission:
		return http.StatusForbidden
	case retry.KindNetwork:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
