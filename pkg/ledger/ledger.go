// Package ledger owns every change to a wallet balance. Transactions, their edits and deletions,
// and bill payments all go through Service so the balance moves by exactly the signed amount of
// the rows that were written, inside the same database transaction.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ponpay/models"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentCategory is the category used for income received from a student.
const PaymentCategory = "Pembayaran Santri"

var (
	ErrInvalidAmount       = errors.New("amount must be greater than zero")
	ErrInvalidType         = errors.New("type must be income or expense")
	ErrInvalidDate         = errors.New("date is required")
	ErrInvalidTitle        = errors.New("bill title is required")
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrBillNotFound        = errors.New("bill not found")
	ErrStudentNotFound     = errors.New("student not found")
	ErrWalletNotFound      = errors.New("wallet not found")
	ErrBillAlreadyPaid     = errors.New("bill already paid")
	ErrBillHasPayments     = errors.New("bill has recorded payments")
	ErrOverpayment         = errors.New("payment exceeds remaining bill amount")
	ErrBillPaymentChanged  = errors.New("bill payment must stay income of the billed student")
)

// domainErrors are returned to callers as they are, never wrapped as persistence failures.
var domainErrors = []error{
	ErrInvalidAmount, ErrInvalidType, ErrInvalidDate, ErrInvalidTitle,
	ErrTransactionNotFound, ErrBillNotFound, ErrStudentNotFound, ErrWalletNotFound,
	ErrBillAlreadyPaid, ErrBillHasPayments, ErrOverpayment, ErrBillPaymentChanged,
}

// OverpaymentError is returned by PayBill when the amount is larger than what is still owed.
// It matches ErrOverpayment with errors.Is.
type OverpaymentError struct {
	Remaining int64
	Attempted int64
}

func (e *OverpaymentError) Error() string {
	return fmt.Sprintf("payment of %d exceeds remaining bill amount %d", e.Attempted, e.Remaining)
}

func (e *OverpaymentError) Is(target error) bool { return target == ErrOverpayment }

// PersistenceError wraps a storage failure. The surrounding database transaction has been
// rolled back when one is returned.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return "ledger: " + e.Op + ": " + e.Err.Error() }

func (e *PersistenceError) Unwrap() error { return e.Err }

// persist tags storage errors with the operation name and lets domain errors through untouched.
func persist(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PersistenceError
	if errors.As(err, &pe) {
		return err
	}
	for _, d := range domainErrors {
		if errors.Is(err, d) {
			return err
		}
	}
	return &PersistenceError{Op: op, Err: err}
}

// Service applies ledger operations against a gorm connection.
type Service struct {
	db  *gorm.DB
	now func() time.Time
}

// NewService returns a Service using db and the wall clock.
func NewService(db *gorm.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// WithClock replaces the clock used for paid_at stamps and payment dates.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// SignedAmount returns amount with the sign of typ: positive for income, negative for expense.
func SignedAmount(typ string, amount int64) int64 {
	if typ == models.TypeExpense {
		return -amount
	}
	return amount
}

// ensureWallet creates the user's wallet row if it does not exist yet.
func ensureWallet(tx *gorm.DB, userID uint) error {
	w := models.Wallet{UserID: userID}
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoNothing: true,
	}).Create(&w).Error
}

// applyTransactionDelta moves the user's balance by delta with a single UPDATE and returns the
// new balance. It must run inside the caller's transaction.
func applyTransactionDelta(tx *gorm.DB, userID uint, delta int64) (int64, error) {
	if err := ensureWallet(tx, userID); err != nil {
		return 0, err
	}
	if delta != 0 {
		res := tx.Model(&models.Wallet{}).
			Where("user_id = ?", userID).
			Update("balance", gorm.Expr("balance + ?", delta))
		if res.Error != nil {
			return 0, res.Error
		}
		if res.RowsAffected == 0 {
			return 0, ErrWalletNotFound
		}
	}
	var w models.Wallet
	if err := tx.Where("user_id = ?", userID).Take(&w).Error; err != nil {
		return 0, err
	}
	return w.Balance, nil
}

// reverseThenApply undoes oldSigned and applies newSigned as one balance update.
func reverseThenApply(tx *gorm.DB, userID uint, oldSigned, newSigned int64) (int64, error) {
	return applyTransactionDelta(tx, userID, newSigned-oldSigned)
}

// Balance returns the stored balance of the user's wallet, zero when the wallet does not exist.
func (s *Service) Balance(ctx context.Context, userID uint) (int64, error) {
	var w models.Wallet
	err := s.db.WithContext(ctx).Where("user_id = ?", userID).Take(&w).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, persist("balance", err)
	}
	return w.Balance, nil
}

// EnsureWallet creates an empty wallet for userID when missing.
func (s *Service) EnsureWallet(ctx context.Context, userID uint) error {
	return persist("ensure wallet", ensureWallet(s.db.WithContext(ctx), userID))
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func logger(ctx context.Context) *log.Entry {
	if e, ok := ctx.Value(loggerKey{}).(*log.Entry); ok {
		return e
	}
	return log.NewEntry(log.StandardLogger())
}

type loggerKey struct{}

// ContextWithLogger attaches a request logger used by the service for its own log lines.
func ContextWithLogger(ctx context.Context, entry *log.Entry) context.Context {
	return context.WithValue(ctx, loggerKey{}, entry)
}
