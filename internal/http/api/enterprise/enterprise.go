package enterprise

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/router-for-me/EnterpriseAccess/internal/allocation"
	"github.com/router-for-me/EnterpriseAccess/internal/http/api/enterprise/handlers"
	"github.com/router-for-me/EnterpriseAccess/internal/metrics"
	"github.com/router-for-me/EnterpriseAccess/internal/policy"
	"github.com/router-for-me/EnterpriseAccess/internal/redemption"
	"github.com/router-for-me/EnterpriseAccess/internal/security"
	"gorm.io/gorm"
)

// Dependencies are the services the enterprise routes are built on.
type Dependencies struct {
	DB         *gorm.DB
	JWTSecret  string
	Allocation *allocation.Service
	Pipeline   *redemption.Pipeline
	Evaluator  *policy.Evaluator
	Admins     allocation.AdminDirectory
	Gatherer   prometheus.Gatherer // nil disables /metrics
}

// RegisterEnterpriseRoutes registers health, metrics and authenticated policy routes.
func RegisterEnterpriseRoutes(r *gin.Engine, deps Dependencies) {
	if r == nil || deps.DB == nil {
		return
	}

	r.GET("/healthz", handlers.NewHealthHandler(deps.DB).Get)
	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(deps.Gatherer)))
	}

	authed := r.Group("/api/v1")
	authed.Use(jwtAuthMiddleware(deps.JWTSecret))

	allocationHandler := handlers.NewAllocationHandler(deps.DB, deps.Allocation)
	authed.POST("/policy-allocation/:policy_uuid/allocate", allocationHandler.Allocate)

	assignmentHandler := handlers.NewAssignmentHandler(deps.DB, deps.Pipeline)
	authed.POST("/assignments/:assignment_uuid/cancel", assignmentHandler.Cancel)
	authed.POST("/assignments/:assignment_uuid/redeem", assignmentHandler.Redeem)

	redemptionHandler := handlers.NewRedemptionHandler(deps.DB, deps.Evaluator, deps.Admins)
	authed.POST("/policy-redemption/can-redeem", redemptionHandler.CanRedeem)
}

// jwtAuthMiddleware validates bearer access tokens and stores the claims in context.
func jwtAuthMiddleware(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if token == authHeader {
			token = strings.TrimPrefix(authHeader, "JWT ")
		}
		if token == authHeader {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid authorization format"})
			return
		}
		token = strings.TrimSpace(token)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "empty token"})
			return
		}

		claims, errJWT := security.ParseAccessToken(secret, token)
		if errJWT != nil {
			if errors.Is(errJWT, security.ErrExpiredToken) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token expired"})
				return
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		c.Set(handlers.ClaimsContextKey, claims)
		c.Next()
	}
}
