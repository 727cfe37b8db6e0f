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

// BillState is a bill together with what has been paid against it.
type BillState struct {
	Bill       models.Bill
	PaidAmount int64
	Remaining  int64
	// Changed is true when the call moved the bill to a different status.
	Changed bool
}

// Payment is the outcome of PayBill.
type Payment struct {
	Transaction models.Transaction
	Bill        models.Bill
	PaidAmount  int64
	Remaining   int64
	Balance     int64
	// Settled is true when this payment moved the bill to paid.
	Settled bool
}

// BillInput holds the editable fields of a bill.
type BillInput struct {
	Title   string
	Amount  int64
	DueDate *time.Time
}

func (in BillInput) check() error {
	if strings.TrimSpace(in.Title) == "" {
		return ErrInvalidTitle
	}
	if in.Amount <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

func paidAmount(tx *gorm.DB, billID uint) (int64, error) {
	var total int64
	err := tx.Model(&models.Transaction{}).
		Select("COALESCE(SUM(amount), 0)").
		Where("bill_id = ? AND type = ?", billID, models.TypeIncome).
		Scan(&total).Error
	return total, err
}

func lockBill(tx *gorm.DB, billID uint) (*models.Bill, error) {
	var b models.Bill
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", billID).Take(&b).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrBillNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// markPaid sets status paid and stamps paid_at unless the bill is already paid.
func markPaid(tx *gorm.DB, billID uint, at time.Time) (bool, error) {
	res := tx.Model(&models.Bill{}).
		Where("id = ? AND status <> ?", billID, models.BillPaid).
		Updates(map[string]interface{}{"status": models.BillPaid, "paid_at": at})
	return res.RowsAffected > 0, res.Error
}

// markUnpaid reverts a paid bill and clears paid_at.
func markUnpaid(tx *gorm.DB, billID uint) (bool, error) {
	res := tx.Model(&models.Bill{}).
		Where("id = ? AND status = ?", billID, models.BillPaid).
		Updates(map[string]interface{}{"status": models.BillUnpaid, "paid_at": nil})
	return res.RowsAffected > 0, res.Error
}

// syncBillStatus derives the status of billID from its payments in both directions.
func syncBillStatus(tx *gorm.DB, billID uint, now time.Time) (*BillState, error) {
	b, err := lockBill(tx, billID)
	if err != nil {
		return nil, err
	}
	paid, err := paidAmount(tx, billID)
	if err != nil {
		return nil, err
	}
	st := &BillState{PaidAmount: paid}
	if paid >= b.Amount {
		if st.Changed, err = markPaid(tx, b.ID, now); err != nil {
			return nil, err
		}
		if st.Changed {
			b.Status, b.PaidAt = models.BillPaid, &now
		}
	} else {
		if st.Changed, err = markUnpaid(tx, b.ID); err != nil {
			return nil, err
		}
		if st.Changed {
			b.Status, b.PaidAt = models.BillUnpaid, nil
		}
	}
	st.Bill = *b
	st.Remaining = remaining(b.Amount, paid)
	return st, nil
}

func remaining(amount, paid int64) int64 {
	if paid >= amount {
		return 0
	}
	return amount - paid
}

// BillPaidAmount returns the sum of income transactions linked to billID.
func (s *Service) BillPaidAmount(ctx context.Context, billID uint) (int64, error) {
	total, err := paidAmount(s.db.WithContext(ctx), billID)
	return total, persist("bill paid amount", err)
}

// BillPaidAmounts returns paid totals for several bills at once. Bills without payments are absent.
func (s *Service) BillPaidAmounts(ctx context.Context, billIDs []uint) (map[uint]int64, error) {
	out := make(map[uint]int64, len(billIDs))
	if len(billIDs) == 0 {
		return out, nil
	}
	var rows []struct {
		BillID uint
		Total  int64
	}
	err := s.db.WithContext(ctx).Model(&models.Transaction{}).
		Select("bill_id, COALESCE(SUM(amount), 0) AS total").
		Where("bill_id IN ? AND type = ?", billIDs, models.TypeIncome).
		Group("bill_id").
		Scan(&rows).Error
	if err != nil {
		return nil, persist("bill paid amounts", err)
	}
	for _, r := range rows {
		out[r.BillID] = r.Total
	}
	return out, nil
}

// CheckAndMarkPaid moves billID to paid once its payments cover the amount. Calling it again
// with the same payments changes nothing.
func (s *Service) CheckAndMarkPaid(ctx context.Context, billID uint) (*BillState, error) {
	var st *BillState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBill(tx, billID)
		if err != nil {
			return err
		}
		paid, err := paidAmount(tx, billID)
		if err != nil {
			return err
		}
		st = &BillState{PaidAmount: paid, Remaining: remaining(b.Amount, paid)}
		if paid >= b.Amount {
			now := s.now()
			if st.Changed, err = markPaid(tx, b.ID, now); err != nil {
				return err
			}
			if st.Changed {
				b.Status, b.PaidAt = models.BillPaid, &now
			}
		}
		st.Bill = *b
		return nil
	})
	if err != nil {
		return nil, persist("check bill", err)
	}
	return st, nil
}

// SyncBillStatus derives billID's status from its payments, reverting to unpaid when they no
// longer cover the amount.
func (s *Service) SyncBillStatus(ctx context.Context, billID uint) (*BillState, error) {
	var st *BillState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) (err error) {
		st, err = syncBillStatus(tx, billID, s.now())
		return err
	})
	if err != nil {
		return nil, persist("sync bill", err)
	}
	return st, nil
}

// PayBill records amount as an income transaction of userID linked to billID, moves the balance
// and marks the bill paid when it is covered. Payments larger than what remains are refused
// with *OverpaymentError; a settled bill refuses any payment with ErrBillAlreadyPaid.
func (s *Service) PayBill(ctx context.Context, userID, billID uint, amount int64, date time.Time) (*Payment, error) {
	if amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if date.IsZero() {
		date = s.now()
	}
	var p Payment
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBill(tx, billID)
		if err != nil {
			return err
		}
		paid, err := paidAmount(tx, billID)
		if err != nil {
			return err
		}
		left := remaining(b.Amount, paid)
		if b.Status == models.BillPaid || left == 0 {
			return ErrBillAlreadyPaid
		}
		if amount > left {
			return &OverpaymentError{Remaining: left, Attempted: amount}
		}

		studentID, bid := b.StudentID, b.ID
		t := models.Transaction{
			UserID:      userID,
			StudentID:   &studentID,
			BillID:      &bid,
			Type:        models.TypeIncome,
			Category:    PaymentCategory,
			Amount:      amount,
			Description: b.Title,
			Date:        dateOnly(date),
		}
		if err := tx.Create(&t).Error; err != nil {
			return err
		}
		bal, err := applyTransactionDelta(tx, userID, SignedAmount(t.Type, t.Amount))
		if err != nil {
			return err
		}

		paid += amount
		settled := false
		if paid >= b.Amount {
			now := s.now()
			if settled, err = markPaid(tx, b.ID, now); err != nil {
				return err
			}
			if settled {
				b.Status, b.PaidAt = models.BillPaid, &now
			}
		}
		p = Payment{
			Transaction: t,
			Bill:        *b,
			PaidAmount:  paid,
			Remaining:   remaining(b.Amount, paid),
			Balance:     bal,
			Settled:     settled,
		}
		return nil
	})
	if err != nil {
		return nil, persist("pay bill", err)
	}
	logger(ctx).WithFields(log.Fields{
		"bill_id": billID,
		"amount":  amount,
		"paid":    p.PaidAmount,
		"settled": p.Settled,
	}).Info("bill payment recorded")
	return &p, nil
}

// CreateBills creates the same bill for each student in studentIDs.
func (s *Service) CreateBills(ctx context.Context, createdBy uint, studentIDs []uint, in BillInput) ([]models.Bill, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	if len(studentIDs) == 0 {
		return nil, ErrStudentNotFound
	}
	var bills []models.Bill
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		seen := make(map[uint]bool, len(studentIDs))
		for _, sid := range studentIDs {
			if seen[sid] {
				continue
			}
			seen[sid] = true
			id := sid
			if err := studentExists(tx, &id); err != nil {
				return err
			}
			creator := createdBy
			b := models.Bill{
				StudentID: sid,
				Title:     strings.TrimSpace(in.Title),
				Amount:    in.Amount,
				DueDate:   in.DueDate,
				Status:    models.BillUnpaid,
				CreatedBy: &creator,
			}
			if err := tx.Create(&b).Error; err != nil {
				return err
			}
			bills = append(bills, b)
		}
		return nil
	})
	if err != nil {
		return nil, persist("create bills", err)
	}
	return bills, nil
}

// UpdateBill changes title, amount and due date of billID and derives its status again.
func (s *Service) UpdateBill(ctx context.Context, billID uint, in BillInput) (*BillState, error) {
	if err := in.check(); err != nil {
		return nil, err
	}
	var st *BillState
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		b, err := lockBill(tx, billID)
		if err != nil {
			return err
		}
		err = tx.Model(b).Updates(map[string]interface{}{
			"title":    strings.TrimSpace(in.Title),
			"amount":   in.Amount,
			"due_date": in.DueDate,
		}).Error
		if err != nil {
			return err
		}
		st, err = syncBillStatus(tx, billID, s.now())
		return err
	})
	if err != nil {
		return nil, persist("update bill", err)
	}
	return st, nil
}

// DeleteBill removes billID. Bills with payments cannot be deleted; delete the payments first.
func (s *Service) DeleteBill(ctx context.Context, billID uint) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockBill(tx, billID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&models.Transaction{}).Where("bill_id = ?", billID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrBillHasPayments
		}
		return tx.Delete(&models.Bill{}, billID).Error
	})
	return persist("delete bill", err)
}
