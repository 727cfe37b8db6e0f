package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"ponpay/pkg/audit"
	"ponpay/pkg/ledger"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type options struct {
	UserID uint
	Repair bool
	// Actor is the user id written on history entries of repairs; 0 records a system action.
	Actor uint
}

func main() {
	_ = godotenv.Load()
	userID := flag.Uint("user", 0, "only this user id (default: every user)")
	repair := flag.Bool("repair", false, "correct drifted balances instead of only reporting")
	actor := flag.Uint("actor", 0, "user id recorded in history for repairs (default: system)")
	flag.Parse()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN not set in env")
	}
	var dial gorm.Dialector = postgres.Open(dsn)
	if os.Getenv("DB_DRIVER") == "sqlite" {
		dial = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dial, &gorm.Config{})
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	opts := options{UserID: uint(*userID), Repair: *repair, Actor: uint(*actor)}
	unrepaired, err := run(ctx, db, opts, os.Stdout)
	if err != nil {
		log.Fatal(err)
	}
	if unrepaired > 0 {
		os.Exit(1)
	}
}

// run prints one line per wallet and returns how many drifted wallets were left as they are.
// Every repair is written to the history log.
func run(ctx context.Context, db *gorm.DB, opts options, out io.Writer) (int, error) {
	svc := ledger.NewService(db)
	history := audit.NewRecorder(db)

	var reports []ledger.Report
	if opts.UserID != 0 {
		r, err := svc.Reconcile(ctx, opts.UserID)
		if err != nil {
			return 0, err
		}
		reports = append(reports, *r)
	} else {
		var err error
		if reports, err = svc.ReconcileAll(ctx); err != nil {
			return 0, err
		}
	}

	drifted, unrepaired := 0, 0
	for _, r := range reports {
		status := "ok"
		if !r.InSync() {
			drifted++
			status = "DRIFT"
			if opts.Repair {
				fixed, err := svc.Repair(ctx, r.UserID)
				if err != nil {
					return 0, fmt.Errorf("repair user %d: %w", r.UserID, err)
				}
				if fixed.Repaired {
					status = "repaired"
					history.Record(ctx, opts.Actor, audit.ActionRepair, audit.TargetWallet, r.UserID, fixed)
				} else if fixed.InSync() {
					status = "ok"
				}
			}
			if status == "DRIFT" {
				unrepaired++
			}
		}
		fmt.Fprintf(out, "user=%d stored=%d expected=%d drift=%d %s\n", r.UserID, r.Stored, r.Expected, r.Drift, status)
	}
	fmt.Fprintf(out, "%d wallets checked, %d drifted\n", len(reports), drifted)
	return unrepaired, nil
}
