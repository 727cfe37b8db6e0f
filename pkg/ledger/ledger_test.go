package ledger

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"ponpay/models"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var dbSeq int64

var testNow = time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)

// newTestDB opens a private in-memory database with the ledger tables.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	n := atomic.AddInt64(&dbSeq, 1)
	dsn := fmt.Sprintf("file:ledger%d?mode=memory&cache=shared&_foreign_keys=1", n)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&models.Role{}, &models.User{}, &models.Wallet{}, &models.Student{}, &models.Bill{}, &models.Transaction{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T) (*Service, *gorm.DB) {
	db := newTestDB(t)
	clock := testNow
	svc := NewService(db).WithClock(func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	})
	return svc, db
}

func createUser(t *testing.T, db *gorm.DB, name string, opening int64) uint {
	t.Helper()
	u := models.User{Username: name, HashedPassword: []byte("x")}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	w := models.Wallet{UserID: u.ID, Balance: opening, OpeningBalance: opening}
	if err := db.Create(&w).Error; err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	return u.ID
}

func createStudent(t *testing.T, db *gorm.DB, name string) uint {
	t.Helper()
	s := models.Student{Name: name, Kelas: "7A", Status: models.StudentActive}
	if err := db.Create(&s).Error; err != nil {
		t.Fatalf("create student: %v", err)
	}
	return s.ID
}

func entry(typ string, amount int64) Entry {
	return Entry{Type: typ, Category: "Operasional", Amount: amount, Date: testNow}
}

func mustBalance(t *testing.T, svc *Service, userID uint, want int64) {
	t.Helper()
	got, err := svc.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if got != want {
		t.Fatalf("expected balance %d got %d", want, got)
	}
}

func TestSignedAmount(t *testing.T) {
	if got := SignedAmount(models.TypeIncome, 5000); got != 5000 {
		t.Fatalf("expected 5000 got %d", got)
	}
	if got := SignedAmount(models.TypeExpense, 2000); got != -2000 {
		t.Fatalf("expected -2000 got %d", got)
	}
}

func TestCreateEditDeleteScenario(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	uid := createUser(t, db, "bendahara", 100000)

	res, err := svc.CreateTransaction(ctx, uid, entry(models.TypeIncome, 5000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Balance != 105000 || res.Delta != 5000 {
		t.Fatalf("expected balance 105000 delta 5000 got %d %d", res.Balance, res.Delta)
	}

	res, err = svc.EditTransaction(ctx, uid, res.Transaction.ID, entry(models.TypeExpense, 2000))
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if res.Delta != -7000 {
		t.Fatalf("expected delta -7000 got %d", res.Delta)
	}
	if res.Balance != 98000 {
		t.Fatalf("expected balance 98000 got %d", res.Balance)
	}

	res, err = svc.DeleteTransaction(ctx, uid, res.Transaction.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if res.Delta != 2000 {
		t.Fatalf("expected delta 2000 got %d", res.Delta)
	}
	mustBalance(t, svc, uid, 100000)

	var n int64
	db.Model(&models.Transaction{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected no transactions left, got %d", n)
	}
}

func TestDeleteReversal(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	uid := createUser(t, db, "bendahara", 50000)

	in, err := svc.CreateTransaction(ctx, uid, entry(models.TypeIncome, 10000))
	if err != nil {
		t.Fatalf("create income: %v", err)
	}
	out, err := svc.CreateTransaction(ctx, uid, entry(models.TypeExpense, 3000))
	if err != nil {
		t.Fatalf("create expense: %v", err)
	}
	mustBalance(t, svc, uid, 57000)

	if _, err := svc.DeleteTransaction(ctx, uid, in.Transaction.ID); err != nil {
		t.Fatalf("delete income: %v", err)
	}
	mustBalance(t, svc, uid, 47000)

	if _, err := svc.DeleteTransaction(ctx, uid, out.Transaction.ID); err != nil {
		t.Fatalf("delete expense: %v", err)
	}
	mustBalance(t, svc, uid, 50000)
}

func TestCreateRejectsBadEntries(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	uid := createUser(t, db, "bendahara", 0)

	if _, err := svc.CreateTransaction(ctx, uid, entry(models.TypeIncome, 0)); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount got %v", err)
	}
	if _, err := svc.CreateTransaction(ctx, uid, entry("transfer", 100)); !errors.Is(err, ErrInvalidType) {
		t.Fatalf("expected ErrInvalidType got %v", err)
	}
	e := entry(models.TypeIncome, 100)
	e.Date = time.Time{}
	if _, err := svc.CreateTransaction(ctx, uid, e); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate got %v", err)
	}
	missing := uint(999)
	e = entry(models.TypeIncome, 100)
	e.StudentID = &missing
	if _, err := svc.CreateTransaction(ctx, uid, e); !errors.Is(err, ErrStudentNotFound) {
		t.Fatalf("expected ErrStudentNotFound got %v", err)
	}
	mustBalance(t, svc, uid, 0)
}

func TestEditAndDeleteAreScopedToOwner(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	owner := createUser(t, db, "owner", 0)
	other := createUser(t, db, "other", 0)

	res, err := svc.CreateTransaction(ctx, owner, entry(models.TypeIncome, 1000))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.EditTransaction(ctx, other, res.Transaction.ID, entry(models.TypeIncome, 5)); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound got %v", err)
	}
	if _, err := svc.DeleteTransaction(ctx, other, res.Transaction.ID); !errors.Is(err, ErrTransactionNotFound) {
		t.Fatalf("expected ErrTransactionNotFound got %v", err)
	}
	mustBalance(t, svc, owner, 1000)
	mustBalance(t, svc, other, 0)
}

func TestWalletCreatedOnDemand(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	u := models.User{Username: "baru", HashedPassword: []byte("x")}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	res, err := svc.CreateTransaction(ctx, u.ID, entry(models.TypeExpense, 2500))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if res.Balance != -2500 {
		t.Fatalf("expected -2500 got %d", res.Balance)
	}
	var n int64
	db.Model(&models.Wallet{}).Where("user_id = ?", u.ID).Count(&n)
	if n != 1 {
		t.Fatalf("expected exactly one wallet got %d", n)
	}
}

func TestBalanceInvariantRandomSequence(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	const opening = 250000
	uid := createUser(t, db, "bendahara", opening)
	rng := rand.New(rand.NewSource(42))
	types := []string{models.TypeIncome, models.TypeExpense}

	var live []uint
	for i := 0; i < 200; i++ {
		switch op := rng.Intn(3); {
		case op == 0 || len(live) == 0:
			res, err := svc.CreateTransaction(ctx, uid, entry(types[rng.Intn(2)], int64(rng.Intn(50000)+100)))
			if err != nil {
				t.Fatalf("create: %v", err)
			}
			live = append(live, res.Transaction.ID)
		case op == 1:
			id := live[rng.Intn(len(live))]
			if _, err := svc.EditTransaction(ctx, uid, id, entry(types[rng.Intn(2)], int64(rng.Intn(50000)+100))); err != nil {
				t.Fatalf("edit: %v", err)
			}
		default:
			k := rng.Intn(len(live))
			if _, err := svc.DeleteTransaction(ctx, uid, live[k]); err != nil {
				t.Fatalf("delete: %v", err)
			}
			live = append(live[:k], live[k+1:]...)
		}
	}

	var rows []models.Transaction
	if err := db.Where("user_id = ?", uid).Find(&rows).Error; err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(rows) != len(live) {
		t.Fatalf("expected %d transactions got %d", len(live), len(rows))
	}
	want := int64(opening)
	for _, r := range rows {
		want += SignedAmount(r.Type, r.Amount)
	}
	mustBalance(t, svc, uid, want)

	rep, err := svc.Reconcile(ctx, uid)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !rep.InSync() {
		t.Fatalf("expected no drift, got %+v", rep)
	}
}

func TestConcurrentCreates(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	uid := createUser(t, db, "bendahara", 0)

	var wg sync.WaitGroup
	errs := make(chan error, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.CreateTransaction(ctx, uid, entry(models.TypeIncome, 1000)); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("create: %v", err)
	}
	mustBalance(t, svc, uid, 20000)
}

func TestWalletFailureRollsBackTransaction(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	uid := createUser(t, db, "bendahara", 100000)

	boom := errors.New("disk full")
	err := db.Callback().Update().Before("gorm:update").Register("test:fail_wallet", func(d *gorm.DB) {
		if d.Statement.Table == "wallet" {
			d.AddError(boom)
		}
	})
	if err != nil {
		t.Fatalf("register callback: %v", err)
	}

	_, err = svc.CreateTransaction(ctx, uid, entry(models.TypeIncome, 5000))
	var pe *PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError got %v", err)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}

	var n int64
	db.Model(&models.Transaction{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected transaction insert rolled back, found %d rows", n)
	}
	mustBalance(t, svc, uid, 100000)
}

func TestReconcileAndRepair(t *testing.T) {
	svc, db := newTestService(t)
	ctx := context.Background()
	uid := createUser(t, db, "bendahara", 10000)

	if _, err := svc.CreateTransaction(ctx, uid, entry(models.TypeIncome, 7000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := svc.CreateTransaction(ctx, uid, entry(models.TypeExpense, 2000)); err != nil {
		t.Fatalf("create: %v", err)
	}
	// simulate a write that bypassed the ledger
	if err := db.Model(&models.Wallet{}).Where("user_id = ?", uid).UpdateColumn("balance", 999).Error; err != nil {
		t.Fatalf("corrupt: %v", err)
	}

	rep, err := svc.Reconcile(ctx, uid)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if rep.Expected != 15000 || rep.Stored != 999 || rep.Drift != 999-15000 {
		t.Fatalf("unexpected report %+v", rep)
	}
	mustBalance(t, svc, uid, 999)

	rep, err = svc.Repair(ctx, uid)
	if err != nil {
		t.Fatalf("repair: %v", err)
	}
	if !rep.Repaired {
		t.Fatalf("expected repair to happen: %+v", rep)
	}
	mustBalance(t, svc, uid, 15000)

	rep, err = svc.Repair(ctx, uid)
	if err != nil {
		t.Fatalf("second repair: %v", err)
	}
	if rep.Repaired || !rep.InSync() {
		t.Fatalf("expected second repair to be a no-op: %+v", rep)
	}

	all, err := svc.ReconcileAll(ctx)
	if err != nil {
		t.Fatalf("reconcile all: %v", err)
	}
	if len(all) != 1 || !all[0].InSync() {
		t.Fatalf("unexpected reports %+v", all)
	}
}
