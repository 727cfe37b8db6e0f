package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"ponpay/models"
	"ponpay/pkg/validation"

	"github.com/joho/godotenv"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func main() {
	_ = godotenv.Load()
	roleName := flag.String("role", models.RoleUser, "role: admin, staff or user")
	fullName := flag.String("name", "", "full name")
	flag.Parse()
	if flag.NArg() < 2 {
		fmt.Println("usage: go run ./cmd/create_user [-role staff] [-name \"Full Name\"] <username> <password>")
		os.Exit(2)
	}
	username, err := validation.Username(flag.Arg(0))
	if err != nil {
		log.Fatal(err)
	}
	password, err := validation.Password(flag.Arg(1))
	if err != nil {
		log.Fatal(err)
	}
	role, err := validation.Role(*roleName)
	if err != nil {
		log.Fatal(err)
	}

	dsn := os.Getenv("DB_DSN")
	if strings.TrimSpace(dsn) == "" {
		log.Fatal("DB_DSN not set in environment")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to open db: %v", err)
	}

	// ensure role exists
	r := models.Role{Name: role}
	if err := db.Where("name = ?", role).FirstOrCreate(&r).Error; err != nil {
		log.Fatalf("ensure role: %v", err)
	}

	// check existing
	var existing models.User
	if err := db.Where("username = ?", username).First(&existing).Error; err == nil {
		fmt.Printf("user %s already exists (id=%d)\n", username, existing.ID)
		os.Exit(0)
	}

	hpw, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("bcrypt failed: %v", err)
	}
	rid := r.ID
	user := models.User{Username: username, FullName: *fullName, HashedPassword: hpw, RoleID: &rid}
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		w := models.Wallet{UserID: user.ID}
		return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "user_id"}}, DoNothing: true}).Create(&w).Error
	})
	if err != nil {
		log.Fatalf("failed to create user: %v", err)
	}
	fmt.Printf("created user %s id=%d role=%s\n", username, user.ID, role)
}
