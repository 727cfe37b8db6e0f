package main

import (
	"net/http"
	"strings"

	"ponpay/models"
	"ponpay/pkg/audit"
	"ponpay/pkg/validation"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

func listUsersHandler(c *gin.Context) {
	var users []models.User
	if err := reqDB(c).Preload("Role").Order("id").Find(&users).Error; err != nil {
		respondError(c, err)
		return
	}
	out := make([]gin.H, len(users))
	for i := range users {
		out[i] = userView(&users[i])
	}
	c.JSON(http.StatusOK, out)
}

func createUserHandler(c *gin.Context) {
	admin, _ := getUserFromContext(c)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}
	if !bindJSON(c, &req) {
		return
	}
	in, err := validation.User(validation.UserInput{Username: req.Username, Email: req.Email, FullName: req.FullName, Role: req.Role})
	if err != nil {
		respondError(c, err)
		return
	}
	if _, err := validation.Password(req.Password); err != nil {
		respondError(c, err)
		return
	}
	user, err := RegisterUser(reqDB(c), in.Username, req.Password, in.Role, in.FullName, in.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), admin.ID, audit.ActionCreate, audit.TargetUser, user.ID, gin.H{"username": user.Username, "role": in.Role})
	c.JSON(http.StatusCreated, gin.H{"message": "User berhasil ditambahkan", "user": userView(user)})
}

// updateUserHandler changes profile fields and role; a non-empty password is reset as well.
func updateUserHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	admin, _ := getUserFromContext(c)
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
		Email    string `json:"email"`
		FullName string `json:"full_name"`
		Role     string `json:"role"`
	}
	if !bindJSON(c, &req) {
		return
	}
	var user models.User
	if err := reqDB(c).Preload("Role").First(&user, id).Error; err != nil {
		respondError(c, err)
		return
	}
	// renaming is validated only on change so the seeded admin keeps its reserved name
	username := user.Username
	if req.Username != "" && !strings.EqualFold(req.Username, user.Username) {
		u, err := validation.Username(req.Username)
		if err != nil {
			respondError(c, err)
			return
		}
		username = u
	}
	email, err := validation.Email(req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	fullName, err := validation.Name(req.FullName, "Nama Lengkap")
	if err != nil {
		respondError(c, err)
		return
	}
	roleName, err := validation.Role(req.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	if req.Password != "" {
		if _, err := validation.Password(req.Password); err != nil {
			respondError(c, err)
			return
		}
	}
	var role models.Role
	if err := reqDB(c).Where("name = ?", roleName).First(&role).Error; err != nil {
		respondError(c, errUnknownRole)
		return
	}
	before := map[string]interface{}{"username": user.Username, "email": user.Email, "full_name": user.FullName, "role": user.RoleName()}
	after := map[string]interface{}{"username": username, "email": email, "full_name": fullName, "role": role.Name}

	err = reqDB(c).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&user).Updates(map[string]interface{}{
			"username":  username,
			"email":     email,
			"full_name": fullName,
			"role_id":   role.ID,
		}).Error; err != nil {
			return err
		}
		if req.Password != "" {
			return setPassword(tx, user.ID, req.Password)
		}
		return nil
	})
	if err != nil {
		if isUniqueConstraintError(err) {
			err = errUsernameTaken
		}
		respondError(c, err)
		return
	}
	diff := audit.Diff(before, after)
	if req.Password != "" {
		diff["password"] = [2]interface{}{nil, "reset"}
	}
	history.Record(reqCtx(c), admin.ID, audit.ActionUpdate, audit.TargetUser, id, diff)
	user.Role = role
	c.JSON(http.StatusOK, gin.H{"message": "User berhasil diperbarui", "user": userView(&user)})
}

// deleteUserHandler removes a user together with its wallet and sessions. Users owning
// transactions and the caller's own account are kept.
func deleteUserHandler(c *gin.Context) {
	id, ok := paramID(c)
	if !ok {
		return
	}
	admin, _ := getUserFromContext(c)
	if id == admin.ID {
		respondError(c, errSelfDelete)
		return
	}
	var user models.User
	if err := reqDB(c).First(&user, id).Error; err != nil {
		respondError(c, err)
		return
	}
	var n int64
	if err := reqDB(c).Model(&models.Transaction{}).Where("user_id = ?", id).Count(&n).Error; err != nil {
		respondError(c, err)
		return
	}
	if n > 0 {
		respondError(c, errUserInUse)
		return
	}
	err := reqDB(c).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", id).Delete(&models.Session{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", id).Delete(&models.Wallet{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, id).Error
	})
	if err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), admin.ID, audit.ActionDelete, audit.TargetUser, id, gin.H{"username": user.Username})
	c.JSON(http.StatusOK, gin.H{"message": "User berhasil dihapus"})
}

func loadSettings(g *gorm.DB) (map[string]string, error) {
	var rows []models.Setting
	if err := g.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]string, len(models.DefaultSettings))
	for k, v := range models.DefaultSettings {
		out[k] = v
	}
	for _, s := range rows {
		out[s.Key] = s.Value
	}
	return out, nil
}

func getSettingsHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	settings, err := loadSettings(reqDB(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": settings, "profile": userView(user)})
}

// updateSettingsHandler stores the known keys present in the body; unknown keys are ignored.
func updateSettingsHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	var req map[string]string
	if !bindJSON(c, &req) {
		return
	}
	before, err := loadSettings(reqDB(c))
	if err != nil {
		respondError(c, err)
		return
	}
	changed := make(map[string]interface{})
	err = reqDB(c).Transaction(func(tx *gorm.DB) error {
		for key := range models.DefaultSettings {
			v, ok := req[key]
			if !ok {
				continue
			}
			v, err := validation.Required(v, key)
			if err != nil {
				return err
			}
			s := models.Setting{Key: key}
			if err := tx.Where(models.Setting{Key: key}).Assign(models.Setting{Value: v}).FirstOrCreate(&s).Error; err != nil {
				return err
			}
			changed[key] = v
		}
		return nil
	})
	if err != nil {
		respondError(c, err)
		return
	}
	prev := make(map[string]interface{}, len(before))
	for k, v := range before {
		prev[k] = v
	}
	if diff := audit.Diff(prev, changed); len(diff) > 0 {
		history.Record(reqCtx(c), user.ID, audit.ActionUpdate, audit.TargetSetting, 0, diff)
	}
	settings, err := loadSettings(reqDB(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Pengaturan berhasil disimpan", "settings": settings})
}

// updateProfileHandler lets the caller change their own username, full name and email.
func updateProfileHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	var req struct {
		Username string `json:"username"`
		FullName string `json:"full_name"`
		Email    string `json:"email"`
	}
	if !bindJSON(c, &req) {
		return
	}
	username := user.Username
	if req.Username != "" && req.Username != user.Username {
		u, err := validation.Username(req.Username)
		if err != nil {
			respondError(c, err)
			return
		}
		username = u
	}
	fullName, err := validation.Name(req.FullName, "Nama Lengkap")
	if err != nil {
		respondError(c, err)
		return
	}
	email, err := validation.Email(req.Email)
	if err != nil {
		respondError(c, err)
		return
	}
	before := map[string]interface{}{"username": user.Username, "full_name": user.FullName, "email": user.Email}
	after := map[string]interface{}{"username": username, "full_name": fullName, "email": email}
	if err := reqDB(c).Model(user).Updates(after).Error; err != nil {
		if isUniqueConstraintError(err) {
			err = errUsernameTaken
		}
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionUpdate, audit.TargetUser, user.ID, audit.Diff(before, after))
	user.Username, user.FullName, user.Email = username, fullName, email
	c.JSON(http.StatusOK, gin.H{"message": "Profil berhasil diperbarui", "user": userView(user)})
}

// changePasswordHandler requires the current password and checks the new one's strength.
func changePasswordHandler(c *gin.Context) {
	user, _ := getUserFromContext(c)
	var req struct {
		CurrentPassword string `json:"current_password" binding:"required"`
		NewPassword     string `json:"new_password" binding:"required"`
		ConfirmPassword string `json:"confirm_password"`
	}
	if !bindJSON(c, &req) {
		return
	}
	if bcrypt.CompareHashAndPassword(user.HashedPassword, []byte(req.CurrentPassword)) != nil {
		respondError(c, errWrongPassword)
		return
	}
	if req.ConfirmPassword != "" && req.ConfirmPassword != req.NewPassword {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Konfirmasi password tidak cocok", "field": "Password"})
		return
	}
	if _, err := validation.Password(req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	if err := setPassword(reqDB(c), user.ID, req.NewPassword); err != nil {
		respondError(c, err)
		return
	}
	history.Record(reqCtx(c), user.ID, audit.ActionUpdate, audit.TargetUser, user.ID, gin.H{"password": "changed"})
	c.JSON(http.StatusOK, gin.H{"message": "Password berhasil diubah"})
}
