package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"ponpay/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Entry is the caller-supplied part of a transaction. Values are expected to be validated and
// normalized already; the service only enforces what the balance depends on.
type Entry struct {
	StudentID   *uint
	Type        string
	Category    string
	Amount      int64
	Description string
	Date        time.Time
}

func (e Entry) check() error {
	if e.Amount <= 0 {
		return ErrInvalidAmount
	}
	if e.Type != models.TypeIncome && e.Type != models.TypeExpense {
		return ErrInvalidType
	}
	if e.Date.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Result reports the state after a ledger mutation.
type Result struct {
	Transaction models.Transaction
	// Delta is the change applied to the balance.
	Delta   int64
	Balance int64
}

func studentExists(tx *gorm.DB, id *uint) error {
	if id == nil {
		return nil
	}
	var n int64
	if err := tx.Model(&models.Student{}).Where("id = ?", *id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrStudentNotFound
	}
	return nil
}

// CreateTransaction records e for userID and moves the balance by its signed amount.
func (s *Service) CreateTransaction(ctx context.Context, userID uint, e Entry) (*Result, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	var res Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := studentExists(tx, e.StudentID); err != nil {
			return err
		}
		t := models.Transaction{
			UserID:      userID,
			StudentID:   e.StudentID,
			Type:        e.Type,
			Category:    strings.TrimSpace(e.Category),
			Amount:      e.Amount,
			Description: strings.TrimSpace(e.Description),
			Date:        dateOnly(e.Date),
		}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		delta := SignedAmount(t.Type, t.Amount)
		bal, err := applyTransactionDelta(tx, userID, delta)
		if err != nil {
			return err
		}
		res = Result{Transaction: t, Delta: delta, Balance: bal}
		return nil
	})
	if err != nil {
		return nil, persist("create transaction", err)
	}
	logger(ctx).WithFields(log.Fields{
		"transaction_id": res.Transaction.ID,
		"user_id":        userID,
		"delta":          res.Delta,
	}).Debug("transaction created")
	return &res, nil
}

// lockTransaction loads the transaction (id, userID) with a row lock.
func lockTransaction(tx *gorm.DB, id, userID uint) (*models.Transaction, error) {
	var t models.Transaction
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ? AND user_id = ?", id, userID).
		Take(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrTransactionNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// EditTransaction replaces the fields of transaction id owned by userID. The old signed amount
// is reversed and the new one applied in the same database transaction. A bill payment keeps
// its bill link and the bill status is derived again afterwards.
func (s *Service) EditTransaction(ctx context.Context, userID, id uint, e Entry) (*Result, error) {
	if err := e.check(); err != nil {
		return nil, err
	}
	var res Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTransaction(tx, id, userID)
		if err != nil {
			return err
		}
		if err := studentExists(tx, e.StudentID); err != nil {
			return err
		}
		if t.BillID != nil {
			if err := checkBillPaymentEdit(tx, t, e); err != nil {
				return err
			}
		}
		oldSigned := SignedAmount(t.Type, t.Amount)

		t.StudentID = e.StudentID
		t.Type = e.Type
		t.Category = strings.TrimSpace(e.Category)
		t.Amount = e.Amount
		t.Description = strings.TrimSpace(e.Description)
		t.Date = dateOnly(e.Date)
		if err := tx.Model(t).Select("StudentID", "Type", "Category", "Amount", "Description", "Date").Updates(t).Error; err != nil {
			return err
		}
		newSigned := SignedAmount(t.Type, t.Amount)
		bal, err := reverseThenApply(tx, userID, oldSigned, newSigned)
		if err != nil {
			return err
		}
		if t.BillID != nil {
			if _, err := syncBillStatus(tx, *t.BillID, s.now()); err != nil {
				return err
			}
		}
		res = Result{Transaction: *t, Delta: newSigned - oldSigned, Balance: bal}
		return nil
	})
	if err != nil {
		return nil, persist("edit transaction", err)
	}
	return &res, nil
}

// checkBillPaymentEdit refuses edits of a bill payment that change its student or type, or that
// would push the bill's paid total past its amount.
func checkBillPaymentEdit(tx *gorm.DB, t *models.Transaction, e Entry) error {
	if e.Type != t.Type || e.StudentID == nil || t.StudentID == nil || *e.StudentID != *t.StudentID {
		return ErrBillPaymentChanged
	}
	b, err := lockBill(tx, *t.BillID)
	if err != nil {
		return err
	}
	paid, err := paidAmount(tx, b.ID)
	if err != nil {
		return err
	}
	others := paid
	if t.Type == models.TypeIncome {
		others -= t.Amount
	}
	if others+e.Amount > b.Amount {
		return &OverpaymentError{Remaining: remaining(b.Amount, others), Attempted: e.Amount}
	}
	return nil
}

// DeleteTransaction removes transaction id owned by userID and reverses its effect on the balance.
func (s *Service) DeleteTransaction(ctx context.Context, userID, id uint) (*Result, error) {
	var res Result
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		t, err := lockTransaction(tx, id, userID)
		if err != nil {
			return err
		}
		if err := tx.Delete(&models.Transaction{}, t.ID).Error; err != nil {
			return err
		}
		oldSigned := SignedAmount(t.Type, t.Amount)
		bal, err := reverseThenApply(tx, userID, oldSigned, 0)
		if err != nil {
			return err
		}
		if t.BillID != nil {
			if _, err := syncBillStatus(tx, *t.BillID, s.now()); err != nil {
				return err
			}
		}
		res = Result{Transaction: *t, Delta: -oldSigned, Balance: bal}
		return nil
	})
	if err != nil {
		return nil, persist("delete transaction", err)
	}
	return &res, nil
}
