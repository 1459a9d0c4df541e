package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"log"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/trainer-ledger-api/internal/models"
	"github.com/noah-isme/trainer-ledger-api/internal/repository"
	"github.com/noah-isme/trainer-ledger-api/pkg/config"
	"github.com/noah-isme/trainer-ledger-api/pkg/database"
)

// create_trainer provisions a trainer account, or resets its password when the email exists.
func main() {
	email := flag.String("email", "", "trainer email (required)")
	name := flag.String("name", "", "trainer full name")
	flag.Parse()

	password := os.Getenv("TRAINER_PASSWORD")
	if strings.TrimSpace(*email) == "" || password == "" {
		log.Fatal("usage: TRAINER_PASSWORD=... create_trainer -email trainer@example.com [-name 'Full Name']")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	db, err := database.Open(cfg)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := database.Migrate(ctx, db); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	users := repository.NewUserRepository(db)
	normalized := strings.ToLower(strings.TrimSpace(*email))
	existing, err := users.FindByEmail(ctx, normalized)
	switch {
	case err == nil:
		if err := users.UpdatePassword(ctx, existing.ID, string(hash), time.Now().UTC()); err != nil {
			log.Fatalf("reset password: %v", err)
		}
		log.Printf("password reset for %s", normalized)
	case errors.Is(err, sql.ErrNoRows):
		user := &models.User{Email: normalized, FullName: strings.TrimSpace(*name), PasswordHash: string(hash), Active: true}
		if err := users.Create(ctx, user); err != nil {
			log.Fatalf("create trainer: %v", err)
		}
		log.Printf("trainer %s created with id %s", normalized, user.ID)
	default:
		log.Fatalf("lookup trainer: %v", err)
	}
}
