package main

import (
	"fmt"
	"time"

	"ponpay/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var db *gorm.DB

// openDB connects to the configured driver. sqlite is limited to one open connection so writers
// never contend for the file lock.
func openDB(c Config) (*gorm.DB, error) {
	var dial gorm.Dialector
	switch c.DBDriver {
	case "sqlite":
		dial = sqlite.Open(c.DBDSN)
	default:
		dial = postgres.Open(c.DBDSN)
	}
	g, err := gorm.Open(dial, &gorm.Config{Logger: newGormLogger(200 * time.Millisecond)})
	if err != nil {
		return nil, err
	}
	sqlDB, err := g.DB()
	if err != nil {
		return nil, err
	}
	if c.DBDriver == "sqlite" {
		sqlDB.SetMaxOpenConns(1)
		if err := g.Exec("PRAGMA foreign_keys = ON").Error; err != nil {
			return nil, fmt.Errorf("enable sqlite foreign keys: %w", err)
		}
	} else {
		sqlDB.SetMaxOpenConns(c.DBMaxOpenConns)
		sqlDB.SetMaxIdleConns(c.DBMaxOpenConns / 2)
		sqlDB.SetConnMaxLifetime(30 * time.Minute)
	}
	return g, nil
}

func initDB() {
	var err error
	db, err = openDB(cfg)
	if err != nil {
		log.Fatal("failed to connect database: ", err)
	}
	// Control schema migrations with env DB_AUTO_MIGRATE (default true). Permission errors are logged and ignored.
	if cfg.DBAutoMigrate {
		migrate(db)
	}
	if err := seedDB(db, cfg); err != nil {
		log.WithError(err).Warn("seeding incomplete")
	}
}

// migrate creates or updates every table. Models are migrated one by one, parents first, so a
// failure on one table does not block the others.
func migrate(g *gorm.DB) {
	steps := []struct {
		table string
		model interface{}
	}{
		{"roles", &models.Role{}},
		{"users", &models.User{}},
		{"wallet", &models.Wallet{}},
		{"sessions", &models.Session{}},
		{"students", &models.Student{}},
		{"bills", &models.Bill{}},
		{"transactions", &models.Transaction{}},
		{"history", &models.HistoryEntry{}},
		{"settings", &models.Setting{}},
	}
	for _, s := range steps {
		if err := g.AutoMigrate(s.model); err != nil {
			log.Printf("migration warning (%s): %v", s.table, err)
		}
	}
}

// seedDB makes sure roles, default settings, the admin account and its wallet exist.
func seedDB(g *gorm.DB, c Config) error {
	for _, r := range models.DefaultRoles {
		role := r
		if err := g.Where("name = ?", role.Name).FirstOrCreate(&role).Error; err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
	}
	for k, v := range models.DefaultSettings {
		s := models.Setting{Key: k, Value: v}
		if err := g.Where(models.Setting{Key: k}).FirstOrCreate(&s).Error; err != nil {
			return fmt.Errorf("seed setting %s: %w", k, err)
		}
	}

	var count int64
	g.Model(&models.User{}).Where("username = ?", "admin").Count(&count)
	if count == 0 {
		var role models.Role
		if err := g.Where("name = ?", models.RoleAdmin).First(&role).Error; err != nil {
			return fmt.Errorf("find admin role: %w", err)
		}
		hashed, err := bcrypt.GenerateFromPassword([]byte(c.SeedAdminPassword), bcrypt.DefaultCost)
		if err != nil {
			return err
		}
		rid := role.ID
		admin := models.User{Username: "admin", FullName: "Administrator", HashedPassword: hashed, RoleID: &rid}
		if err := g.Create(&admin).Error; err != nil {
			return fmt.Errorf("seed admin: %w", err)
		}
		log.Info("seeded admin user: username=admin")
	}

	var admin models.User
	if err := g.Where("username = ?", "admin").First(&admin).Error; err != nil {
		return fmt.Errorf("find admin: %w", err)
	}
	w := models.Wallet{UserID: admin.ID, Balance: c.WalletOpeningBalance, OpeningBalance: c.WalletOpeningBalance}
	return g.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).Create(&w).Error
}
