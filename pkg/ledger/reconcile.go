package ledger

import (
	"context"
	"errors"

	"ponpay/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Report compares a stored wallet balance with the balance its transactions add up to.
type Report struct {
	UserID       uint  `json:"user_id"`
	Stored       int64 `json:"stored"`
	Opening      int64 `json:"opening"`
	Transactions int64 `json:"transactions"`
	Expected     int64 `json:"expected"`
	// Drift is Stored minus Expected.
	Drift    int64 `json:"drift"`
	Repaired bool  `json:"repaired"`
}

// InSync reports whether the stored balance matches the transactions.
func (r Report) InSync() bool { return r.Drift == 0 }

func signedTotal(tx *gorm.DB, userID uint) (int64, error) {
	var total int64
	err := tx.Model(&models.Transaction{}).
		Select("COALESCE(SUM(CASE WHEN type = ? THEN -amount ELSE amount END), 0)", models.TypeExpense).
		Where("user_id = ?", userID).
		Scan(&total).Error
	return total, err
}

func buildReport(tx *gorm.DB, userID uint, locked bool) (*Report, error) {
	q := tx
	if locked {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var w models.Wallet
	err := q.Where("user_id = ?", userID).Take(&w).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	sum, err := signedTotal(tx, userID)
	if err != nil {
		return nil, err
	}
	r := &Report{
		UserID:       userID,
		Stored:       w.Balance,
		Opening:      w.OpeningBalance,
		Transactions: sum,
		Expected:     w.OpeningBalance + sum,
	}
	r.Drift = r.Stored - r.Expected
	return r, nil
}

// Reconcile reports drift for userID without changing anything.
func (s *Service) Reconcile(ctx context.Context, userID uint) (*Report, error) {
	r, err := buildReport(s.db.WithContext(ctx), userID, false)
	if err != nil {
		return nil, persist("reconcile", err)
	}
	if !r.InSync() {
		logger(ctx).WithFields(log.Fields{
			"user_id":  userID,
			"stored":   r.Stored,
			"expected": r.Expected,
			"drift":    r.Drift,
		}).Warn("wallet balance drift detected")
	}
	return r, nil
}

// ReconcileAll runs Reconcile for every user.
func (s *Service) ReconcileAll(ctx context.Context) ([]Report, error) {
	var ids []uint
	if err := s.db.WithContext(ctx).Model(&models.User{}).Order("id").Pluck("id", &ids).Error; err != nil {
		return nil, persist("reconcile all", err)
	}
	out := make([]Report, 0, len(ids))
	for _, id := range ids {
		r, err := s.Reconcile(ctx, id)
		if err != nil {
			return out, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Repair brings the stored balance of userID back to opening balance plus transactions. The
// returned report describes the drift that was corrected.
func (s *Service) Repair(ctx context.Context, userID uint) (*Report, error) {
	var r *Report
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureWallet(tx, userID); err != nil {
			return err
		}
		var err error
		if r, err = buildReport(tx, userID, true); err != nil {
			return err
		}
		if r.InSync() {
			return nil
		}
		if _, err := applyTransactionDelta(tx, userID, -r.Drift); err != nil {
			return err
		}
		r.Repaired = true
		return nil
	})
	if err != nil {
		return nil, persist("repair", err)
	}
	if r.Repaired {
		logger(ctx).WithFields(log.Fields{
			"user_id": userID,
			"from":    r.Stored,
			"to":      r.Expected,
		}).Warn("wallet balance repaired")
	}
	return r, nil
}
