// Package sanitize empties application tables and optionally reseeds the master data.
package sanitize

import (
	"context"
	"fmt"
	"io"
	"log"
	"regexp"
	"strings"
	"time"

	"ponpay/models"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultTables are the application tables, children first.
const DefaultTables = "history,transactions,bills,students,sessions,wallet,settings,users,roles"

// Options controls Run.
type Options struct {
	DryRun        bool
	Yes           bool
	Reseed        bool
	Tables        string
	AdminPassword string
}

var nameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseTables splits a comma separated list and drops invalid identifiers.
func ParseTables(list string) []string {
	parts := strings.Split(list, ",")
	wanted := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if !nameRe.MatchString(p) {
			log.Printf("warning: skipping invalid table name '%s'", p)
			continue
		}
		wanted = append(wanted, p)
	}
	return wanted
}

// TruncateStatement quotes the (validated) names into one TRUNCATE.
func TruncateStatement(tables []string) string {
	quoted := make([]string, 0, len(tables))
	for _, t := range tables {
		quoted = append(quoted, fmt.Sprintf("\"%s\"", t))
	}
	return fmt.Sprintf("TRUNCATE TABLE %s RESTART IDENTITY CASCADE", strings.Join(quoted, ", "))
}

// Run truncates the requested tables that exist on the postgres database gdb. Nothing is
// changed unless DryRun is off and Yes is set.
func Run(gdb *gorm.DB, opts Options, out io.Writer) error {
	existing := []string{}
	// check presence individually to avoid any injection risk
	for _, t := range ParseTables(opts.Tables) {
		var cnt int64
		if err := gdb.Raw("SELECT count(*) FROM pg_tables WHERE schemaname = 'public' AND tablename = ?", t).Scan(&cnt).Error; err != nil {
			return fmt.Errorf("query pg_tables for %s: %w", t, err)
		}
		if cnt > 0 {
			existing = append(existing, t)
		} else {
			log.Printf("info: table %s not found, skipping", t)
		}
	}
	if len(existing) == 0 {
		fmt.Fprintln(out, "no requested tables present in the database; nothing to do")
		return nil
	}

	fmt.Fprintln(out, "Tables considered for truncation:")
	for _, t := range existing {
		fmt.Fprintf(out, " - %s\n", t)
	}
	if opts.DryRun {
		fmt.Fprintln(out, "dry-run enabled; no changes will be made. Use --dry-run=false --yes to execute.")
		return nil
	}
	if !opts.Yes {
		fmt.Fprintln(out, "Destructive operation. Pass --yes to confirm execution. Aborting.")
		return nil
	}

	stmt := TruncateStatement(existing)
	log.Printf("Executing: %s", stmt)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := gdb.WithContext(ctx).Exec(stmt).Error; err != nil {
		return fmt.Errorf("truncate failed: %w", err)
	}
	fmt.Fprintln(out, "Truncate completed.")

	if opts.Reseed {
		if err := Reseed(gdb, opts.AdminPassword); err != nil {
			return fmt.Errorf("reseed failed: %w", err)
		}
		fmt.Fprintln(out, "Reseeded roles, settings and admin user.")
	}
	return nil
}

// Reseed restores roles, default settings and the admin user with an empty wallet.
func Reseed(gdb *gorm.DB, adminPassword string) error {
	for _, r := range models.DefaultRoles {
		role := r
		if err := gdb.Where("name = ?", role.Name).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("failed to ensure role %s: %w", r.Name, err)
		}
	}
	for k, v := range models.DefaultSettings {
		s := models.Setting{Key: k, Value: v}
		if err := gdb.Where(models.Setting{Key: k}).FirstOrCreate(&s).Error; err != nil {
			return fmt.Errorf("failed to ensure setting %s: %w", k, err)
		}
	}
	var role models.Role
	if err := gdb.Where("name = ?", models.RoleAdmin).First(&role).Error; err != nil {
		return fmt.Errorf("failed to find admin role: %w", err)
	}
	if adminPassword == "" {
		adminPassword = "admin123"
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(adminPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash admin password: %w", err)
	}
	rid := role.ID
	admin := models.User{Username: "admin", FullName: "Administrator", HashedPassword: hashed, RoleID: &rid}
	if err := gdb.Where("username = ?", "admin").FirstOrCreate(&admin).Error; err != nil {
		return fmt.Errorf("failed to create admin user: %w", err)
	}
	w := models.Wallet{UserID: admin.ID}
	if err := gdb.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).Create(&w).Error; err != nil {
		return fmt.Errorf("failed to create admin wallet: %w", err)
	}
	return nil
}
