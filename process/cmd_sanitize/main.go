package main

import (
	"flag"
	"log"
	"os"

	"ponpay/process/sanitize"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	var opts sanitize.Options
	flag.BoolVar(&opts.DryRun, "dry-run", true, "Don't perform destructive actions; show what would be done")
	flag.BoolVar(&opts.Yes, "yes", false, "Confirm destructive action (required to actually truncate)")
	flag.BoolVar(&opts.Reseed, "reseed", false, "After truncation, reseed roles, settings and the admin user")
	flag.StringVar(&opts.Tables, "tables", sanitize.DefaultTables, "Comma-separated list of tables to truncate")
	flag.Parse()
	opts.AdminPassword = os.Getenv("SEED_ADMIN_PASSWORD")

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		log.Fatal("DB_DSN must be set to run db_sanitize")
	}
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	if err := sanitize.Run(gdb, opts, os.Stdout); err != nil {
		log.Fatal(err)
	}
}
