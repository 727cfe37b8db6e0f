package main

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"ponpay/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jackc/pgx/v5/pgconn"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	errInvalidCredentials = errors.New("invalid credentials")
	errUsernameTaken      = errors.New("username already exists")
	errUnknownRole        = errors.New("unknown role")
	errSessionInvalid     = errors.New("session expired or revoked")
)

// RegisterUser creates a user with the given role and an empty wallet.
func RegisterUser(g *gorm.DB, username, password, roleName, fullName, email string) (*models.User, error) {
	username = strings.TrimSpace(username)
	var role models.Role
	if err := g.Where("name = ?", roleName).First(&role).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errUnknownRole
		}
		return nil, err
	}
	// pre-check existing (optimistic)
	var n int64
	if err := g.Model(&models.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return nil, err
	}
	if n > 0 {
		return nil, errUsernameTaken
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	rid := role.ID
	user := models.User{Username: username, HashedPassword: hashed, RoleID: &rid, FullName: fullName, Email: email}
	err = g.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		w := models.Wallet{UserID: user.ID}
		return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).Create(&w).Error
	})
	if err != nil {
		if isUniqueConstraintError(err) { // race condition after initial check
			return nil, errUsernameTaken
		}
		return nil, err
	}
	user.Role = role
	return &user, nil
}

// Authenticate checks a username/password pair. Accounts still holding a plaintext password
// are upgraded to a bcrypt hash on their first successful login.
func Authenticate(g *gorm.DB, username, password string) (*models.User, error) {
	username = strings.TrimSpace(username)
	var user models.User
	if err := g.Preload("Role").Where("username = ?", username).First(&user).Error; err != nil {
		return nil, errInvalidCredentials
	}
	if bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(password)) == nil {
		return &user, nil
	}
	if isBcryptHash(user.HashedPassword) || !bytes.Equal(user.HashedPassword, []byte(password)) {
		return nil, errInvalidCredentials
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	if err := g.Model(&user).Update("hashed_password", hashed).Error; err != nil {
		log.WithError(err).WithField("user_id", user.ID).Warn("failed to upgrade legacy password")
	} else {
		log.WithField("user_id", user.ID).Info("legacy password upgraded to bcrypt")
	}
	user.HashedPassword = hashed
	return &user, nil
}

func isBcryptHash(b []byte) bool {
	_, err := bcrypt.Cost(b)
	return err == nil
}

// setPassword stores a new bcrypt hash for userID.
func setPassword(g *gorm.DB, userID uint, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	return g.Model(&models.User{}).Where("id = ?", userID).Update("hashed_password", hashed).Error
}

// isUniqueConstraintError reports a unique violation from postgres (SQLSTATE 23505) or sqlite.
func isUniqueConstraintError(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "duplicate key") || strings.Contains(s, "UNIQUE constraint failed") || strings.Contains(s, "unique constraint")
}

func hashToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// createSession opens a session for userID and returns the raw refresh token.
func createSession(g *gorm.DB, userID uint, clientIP string) (string, *models.Session, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(b)
	s := models.Session{
		UserID:    userID,
		TokenHash: hashToken(token),
		ExpiresAt: time.Now().Add(cfg.RefreshTokenTTL),
		ClientIP:  clientIP,
	}
	if err := g.Create(&s).Error; err != nil {
		return "", nil, err
	}
	return token, &s, nil
}

// findSessionByRaw looks a session up by its raw refresh token.
func findSessionByRaw(g *gorm.DB, token string) (*models.Session, error) {
	var s models.Session
	if err := g.Where("token_hash = ?", hashToken(token)).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// rotateSession replaces the refresh token of s and extends it.
func rotateSession(g *gorm.DB, s *models.Session) (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	token := hex.EncodeToString(b)
	res := g.Model(&models.Session{}).
		Where("id = ? AND token_hash = ? AND revoked = ?", s.ID, s.TokenHash, false).
		Updates(map[string]interface{}{"token_hash": hashToken(token), "expires_at": time.Now().Add(cfg.RefreshTokenTTL)})
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", errSessionInvalid
	}
	return token, nil
}

func sessionActive(s *models.Session) bool {
	return s != nil && !s.Revoked && time.Now().Before(s.ExpiresAt)
}

// issueAccessToken signs a short lived JWT bound to session sid.
func issueAccessToken(user *models.User, sid uint) (string, time.Time, error) {
	exp := time.Now().Add(cfg.AccessTokenTTL)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"uid":      user.ID,
		"username": user.Username,
		"role":     user.Role.Name,
		"sid":      sid,
		"exp":      exp.Unix(),
	})
	s, err := token.SignedString(jwtSecret)
	return s, exp, err
}

// parseAccessToken validates tokenString and returns user and session ids.
func parseAccessToken(tokenString string) (uid, sid uint, err error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrInvalidKeyType
		}
		return jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return 0, 0, errSessionInvalid
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, 0, errSessionInvalid
	}
	u, _ := claims["uid"].(float64)
	s, _ := claims["sid"].(float64)
	if u <= 0 || s <= 0 {
		return 0, 0, errSessionInvalid
	}
	return uint(u), uint(s), nil
}
