package middleware

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/krs-api/internal/models"
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

const (
	auditResourceKey = "audit_resource_id"
	auditSubjectKey  = "audit_subject"
)

// SetAuditResource lets a handler name the record it touched when the route
// carries no id parameter. subject is merged into the stored snapshot.
func SetAuditResource(c *gin.Context, resourceID string, subject map[string]string) {
	if resourceID != "" {
		c.Set(auditResourceKey, resourceID)
	}
	if len(subject) > 0 {
		c.Set(auditSubjectKey, subject)
	}
}

// Audit records staff actions after successful requests. The id path
// parameter becomes the resource id, falling back to what the handler set
// through SetAuditResource.
func Audit(recorder AuditRecorder, logger *zap.Logger, action, resource string) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		start := time.Now().UTC()
		c.Next()

		if recorder == nil || c.Writer.Status() >= 400 {
			return
		}

		var userID *string
		if claims, ok := c.Get(ContextUserKey); ok {
			if user, ok := claims.(*models.JWTClaims); ok {
				userID = &user.UserID
			}
		}
		var resourceID *string
		if id := c.Param("id"); id != "" {
			resourceID = &id
		} else if id := c.GetString(auditResourceKey); id != "" {
			resourceID = &id
		}

		snapshot := map[string]interface{}{
			"path":    c.FullPath(),
			"method":  c.Request.Method,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).Milliseconds(),
		}
		if subject, ok := c.Get(auditSubjectKey); ok {
			if fields, ok := subject.(map[string]string); ok {
				for k, v := range fields {
					snapshot[k] = v
				}
			}
		}
		body, _ := json.Marshal(snapshot)

		err := recorder.CreateAuditLog(c.Request.Context(), &models.AuditLog{
			UserID:     userID,
			Action:     action,
			Resource:   resource,
			ResourceID: resourceID,
			NewValues:  body,
			IPAddress:  c.ClientIP(),
			UserAgent:  c.GetHeader("User-Agent"),
			CreatedAt:  start,
		})
		if err != nil {
			logger.Warn("audit log write failed", zap.String("action", action), zap.Error(err))
		}
	}
}
