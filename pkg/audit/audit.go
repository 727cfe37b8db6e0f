// Package audit writes the history log. Recording never fails the operation being audited:
// errors are logged and dropped.
package audit

import (
	"context"
	"encoding/json"
	"errors"

	"ponpay/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionPay    = "pay"
	ActionLogin  = "login"
	ActionRepair = "repair"
)

const (
	TargetTransaction = "transaction"
	TargetStudent     = "student"
	TargetBill        = "bill"
	TargetUser        = "user"
	TargetSetting     = "setting"
	TargetWallet      = "wallet"
)

// ErrNotFound is returned by Delete for an unknown entry.
var ErrNotFound = errors.New("history entry not found")

// Recorder appends history entries.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Record stores one entry. meta is marshalled to JSON; nil stores no meta.
func (r *Recorder) Record(ctx context.Context, userID uint, action, targetType string, targetID uint, meta interface{}) {
	e := models.HistoryEntry{Action: action, TargetType: targetType}
	if userID != 0 {
		e.UserID = &userID
	}
	if targetID != 0 {
		e.TargetID = &targetID
	}
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			log.WithError(err).WithField("action", action).Warn("history meta not serializable")
		} else {
			e.Meta = datatypes.JSON(b)
		}
	}
	if err := r.db.WithContext(ctx).Create(&e).Error; err != nil {
		log.WithError(err).WithFields(log.Fields{
			"action": action,
			"target": targetType,
			"id":     targetID,
		}).Warn("failed to record history")
	}
}

// List returns the newest entries first, at most limit of them.
func (r *Recorder) List(ctx context.Context, limit int, targetType string) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	q := r.db.WithContext(ctx).Order("created_at desc, id desc").Limit(limit)
	if targetType != "" {
		q = q.Where("target_type = ?", targetType)
	}
	var out []models.HistoryEntry
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes one entry.
func (r *Recorder) Delete(ctx context.Context, id uint) error {
	res := r.db.WithContext(ctx).Delete(&models.HistoryEntry{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Diff returns old/new pairs for keys whose values differ, the shape stored as meta on updates.
func Diff(before, after map[string]interface{}) map[string][2]interface{} {
	out := make(map[string][2]interface{})
	for k, nv := range after {
		if ov, ok := before[k]; !ok || ov != nv {
			out[k] = [2]interface{}{before[k], nv}
		}
	}
	return out
}
