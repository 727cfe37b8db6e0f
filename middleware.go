package main

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"ponpay/models"
	"ponpay/pkg/ledger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	ctxLogger = "logger"
	ctxUser   = "user"
	ctxSID    = "sid"
)

// requestLogger tags every request with an X-Request-ID and logs it when done.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rid := c.GetHeader("X-Request-ID")
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Header("X-Request-ID", rid)
		entry := log.WithFields(log.Fields{"request_id": rid, "method": c.Request.Method, "path": c.Request.URL.Path})
		c.Set(ctxLogger, entry)

		c.Next()

		fields := log.Fields{"status": c.Writer.Status(), "elapsed": time.Since(start), "client_ip": c.ClientIP()}
		if u, ok := c.Get(ctxUser); ok {
			fields["user_id"] = u.(*models.User).ID
		}
		e := entry.WithFields(fields)
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			e.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			e.Warn("request rejected")
		default:
			e.Info("request")
		}
	}
}

func reqLogger(c *gin.Context) *log.Entry {
	if v, ok := c.Get(ctxLogger); ok {
		return v.(*log.Entry)
	}
	return log.NewEntry(log.StandardLogger())
}

// reqCtx is the request context carrying the request logger for the ledger.
func reqCtx(c *gin.Context) context.Context {
	return ledger.ContextWithLogger(c.Request.Context(), reqLogger(c))
}

// reqDB is the shared connection bound to the request context.
func reqDB(c *gin.Context) *gorm.DB {
	return db.WithContext(c.Request.Context())
}

// jwtAuthMiddleware accepts a Bearer access token whose session is still open and loads the
// user with its role.
func jwtAuthMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" || len(authHeader) < 8 || authHeader[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid Authorization header"})
			return
		}
		uid, sid, err := parseAccessToken(authHeader[7:])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		var s models.Session
		if err := reqDB(c).First(&s, sid).Error; err != nil || s.UserID != uid || !sessionActive(&s) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errSessionInvalid.Error()})
			return
		}
		var user models.User
		if err := reqDB(c).Preload("Role").First(&user, uid).Error; err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		c.Set(ctxUser, &user)
		c.Set(ctxSID, s.ID)
		c.Set("username", user.Username)
		c.Set("role", user.RoleName())
		c.Next()
	}
}

// requireRole lets the request through only for users holding one of roles.
func requireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := getUserFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		for _, r := range roles {
			if user.RoleName() == r {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Akses ditolak"})
	}
}

// getUserFromContext returns the user loaded by jwtAuthMiddleware.
func getUserFromContext(c *gin.Context) (*models.User, bool) {
	v, ok := c.Get(ctxUser)
	if !ok {
		return nil, false
	}
	u, ok := v.(*models.User)
	return u, ok
}

// paramID parses the :id path parameter, answering 400 when it is not a positive integer.
func paramID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return uint(id), true
}

// queryUint parses an optional numeric query parameter; zero means absent.
func queryUint(c *gin.Context, key string) uint {
	v, err := strconv.ParseUint(c.Query(key), 10, 64)
	if err != nil {
		return 0
	}
	return uint(v)
}
