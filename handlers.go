package main

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"ponpay/models"
	"ponpay/pkg/audit"

	"github.com/gin-gonic/gin"
)

func setupRoutes(r *gin.Engine) {
	r.POST("/login", loginHandler)
	r.POST("/refresh", refreshHandler)

	authGroup := r.Group("")
	authGroup.Use(jwtAuthMiddleware())
	authGroup.GET("/me", meHandler)
	authGroup.POST("/logout", logoutHandler)

	authGroup.GET("/transactions", listTransactionsHandler)
	authGroup.POST("/transactions", createTransactionHandler)
	authGroup.GET("/transactions/:id", getTransactionHandler)
	authGroup.PUT("/transactions/:id", updateTransactionHandler)
	authGroup.DELETE("/transactions/:id", deleteTransactionHandler)

	authGroup.GET("/students", listStudentsHandler)
	authGroup.GET("/students/:id", getStudentHandler)
	authGroup.POST("/students/:id/payments", createStudentPaymentHandler)

	authGroup.GET("/dashboard", dashboardHandler)
	authGroup.GET("/wallet", walletHandler)
	authGroup.GET("/statistics", statisticsHandler)
	authGroup.GET("/history", listHistoryHandler)

	authGroup.GET("/settings", getSettingsHandler)
	authGroup.PUT("/settings/profile", updateProfileHandler)
	authGroup.PUT("/settings/password", changePasswordHandler)

	staffGroup := authGroup.Group("")
	staffGroup.Use(requireRole(models.RoleAdmin, models.RoleStaff))
	staffGroup.POST("/students", createStudentHandler)
	staffGroup.PUT("/students/:id", updateStudentHandler)
	staffGroup.GET("/bills", listBillsHandler)
	staffGroup.POST("/bills", createBillsHandler)
	staffGroup.GET("/bills/:id", getBillHandler)
	staffGroup.PUT("/bills/:id", updateBillHandler)
	staffGroup.DELETE("/bills/:id", deleteBillHandler)
	staffGroup.POST("/bills/:id/pay", payBillHandler)
	staffGroup.GET("/bills/:id/receipt", billReceiptHandler)

	adminGroup := authGroup.Group("")
	adminGroup.Use(requireRole(models.RoleAdmin))
	adminGroup.DELETE("/students/:id", deleteStudentHandler)
	adminGroup.DELETE("/history/:id", deleteHistoryHandler)
	adminGroup.GET("/users", listUsersHandler)
	adminGroup.POST("/users", createUserHandler)
	adminGroup.PUT("/users/:id", updateUserHandler)
	adminGroup.DELETE("/users/:id", deleteUserHandler)
	adminGroup.PUT("/settings", updateSettingsHandler)
	adminGroup.GET("/wallet/reconcile", reconcileHandler)
	adminGroup.POST("/wallet/reconcile", repairHandler)
}

func userView(u *models.User) gin.H {
	return gin.H{
		"id":              u.ID,
		"username":        u.Username,
		"full_name":       u.FullName,
		"email":           u.Email,
		"profile_picture": u.ProfilePicture,
		"role":            u.RoleName(),
		"created_at":      u.CreatedAt,
	}
}

func meHandler(c *gin.Context) {
	user, ok := getUserFromContext(c)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "context missing user"})
		return
	}
	c.JSON(http.StatusOK, userView(user))
}

func loginHandler(c *gin.Context) {
	var req struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	key := strings.ToLower(strings.TrimSpace(req.Username)) + "|" + c.ClientIP()
	if !loginLimiter.Allow(key) {
		wait := loginLimiter.RetryAfter(key)
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())+1))
		c.JSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Terlalu banyak percobaan. Coba lagi dalam %d menit.", int(loginLimiter.Window().Minutes())),
		})
		return
	}
	user, err := Authenticate(reqDB(c), req.Username, req.Password)
	if err != nil {
		reqLogger(c).WithField("username", req.Username).Warn("login failed")
		respondError(c, err)
		return
	}
	loginLimiter.Reset(key)

	refreshToken, session, err := createSession(reqDB(c), user.ID, c.ClientIP())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create session"})
		return
	}
	token, exp, err := issueAccessToken(user, session.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionLogin, audit.TargetUser, user.ID, gin.H{"ip": c.ClientIP()})
	c.JSON(http.StatusOK, gin.H{
		"message":       "login successful",
		"token":         token,
		"expires_at":    exp,
		"refresh_token": refreshToken,
		"user":          userView(user),
	})
}

// refreshHandler exchanges a refresh token for a new access token and rotates the refresh token
func refreshHandler(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if !bindJSON(c, &req) {
		return
	}
	s, err := findSessionByRaw(reqDB(c), req.RefreshToken)
	if err != nil || !sessionActive(s) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	var user models.User
	if err := reqDB(c).Preload("Role").First(&user, s.UserID).Error; err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
		return
	}
	newRT, err := rotateSession(reqDB(c), s)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired refresh token"})
		return
	}
	token, exp, err := issueAccessToken(&user, s.ID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_at": exp, "refresh_token": newRT})
}

// logoutHandler revokes the session of the current access token.
func logoutHandler(c *gin.Context) {
	sid := c.GetUint(ctxSID)
	if err := reqDB(c).Model(&models.Session{}).Where("id = ?", sid).Update("revoked", true).Error; err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}
