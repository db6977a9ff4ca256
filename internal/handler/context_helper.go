package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/krs-api/internal/middleware"
	"github.com/noah-isme/krs-api/internal/models"
	appErrors "github.com/noah-isme/krs-api/pkg/errors"
)

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	return middleware.CurrentClaims(c)
}

// authorizeStudent lets staff act on anyone and students only on themselves.
func authorizeStudent(claims *models.JWTClaims, studentID string) error {
	if claims == nil {
		return appErrors.ErrUnauthorized
	}
	if claims.IsStaff() || claims.UserID == studentID {
		return nil
	}
	return appErrors.Clone(appErrors.ErrForbidden, "students may only act on their own enrollments")
}
