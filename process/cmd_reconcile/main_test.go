package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"ponpay/models"
	"ponpay/pkg/audit"
	"ponpay/pkg/ledger"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func openTestDB(t *testing.T, name string) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+name+"?mode=memory&cache=shared&_foreign_keys=1"),
		&gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })
	if err := db.AutoMigrate(&models.Role{}, &models.User{}, &models.Wallet{}, &models.Student{},
		&models.Bill{}, &models.Transaction{}, &models.HistoryEntry{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

// seedDrift creates a user whose stored balance disagrees with its transactions.
func seedDrift(t *testing.T, db *gorm.DB) uint {
	t.Helper()
	u := models.User{Username: "bendahara", HashedPassword: []byte("x")}
	if err := db.Create(&u).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	if err := db.Create(&models.Wallet{UserID: u.ID}).Error; err != nil {
		t.Fatalf("create wallet: %v", err)
	}
	svc := ledger.NewService(db)
	e := ledger.Entry{Type: models.TypeIncome, Category: "Infaq", Amount: 25000, Date: time.Now()}
	if _, err := svc.CreateTransaction(context.Background(), u.ID, e); err != nil {
		t.Fatalf("create transaction: %v", err)
	}
	if err := db.Model(&models.Wallet{}).Where("user_id = ?", u.ID).UpdateColumn("balance", 1000).Error; err != nil {
		t.Fatalf("corrupt balance: %v", err)
	}
	return u.ID
}

func TestReportOnlyLeavesDrift(t *testing.T) {
	db := openTestDB(t, "reconcile_report")
	uid := seedDrift(t, db)

	var out bytes.Buffer
	left, err := run(context.Background(), db, options{}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if left != 1 || !strings.Contains(out.String(), "DRIFT") {
		t.Fatalf("expected one drifted wallet, got %d:\n%s", left, out.String())
	}
	var w models.Wallet
	db.Where("user_id = ?", uid).Take(&w)
	if w.Balance != 1000 {
		t.Fatalf("report-only run changed balance to %d", w.Balance)
	}
	var n int64
	db.Model(&models.HistoryEntry{}).Count(&n)
	if n != 0 {
		t.Fatalf("expected no history, got %d entries", n)
	}
}

func TestRepairRecordsHistory(t *testing.T) {
	db := openTestDB(t, "reconcile_repair")
	uid := seedDrift(t, db)

	var out bytes.Buffer
	left, err := run(context.Background(), db, options{Repair: true, Actor: uid}, &out)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if left != 0 || !strings.Contains(out.String(), "repaired") {
		t.Fatalf("expected wallet repaired, got %d:\n%s", left, out.String())
	}
	var w models.Wallet
	db.Where("user_id = ?", uid).Take(&w)
	if w.Balance != 25000 {
		t.Fatalf("expected balance 25000 got %d", w.Balance)
	}

	var entries []models.HistoryEntry
	if err := db.Find(&entries).Error; err != nil {
		t.Fatalf("load history: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected one history entry got %d", len(entries))
	}
	e := entries[0]
	if e.Action != audit.ActionRepair || e.TargetType != audit.TargetWallet ||
		e.TargetID == nil || *e.TargetID != uid || e.UserID == nil || *e.UserID != uid {
		t.Fatalf("unexpected history entry %+v", e)
	}

	// nothing left to repair, nothing more recorded
	out.Reset()
	if left, err = run(context.Background(), db, options{Repair: true}, &out); err != nil || left != 0 {
		t.Fatalf("second run: left=%d err=%v", left, err)
	}
	var n int64
	db.Model(&models.HistoryEntry{}).Count(&n)
	if n != 1 {
		t.Fatalf("expected history unchanged, got %d entries", n)
	}
}
