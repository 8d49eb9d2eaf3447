// seed inserts development accounts into the security database for local testing.
// Idempotent: existing users and roles are left untouched.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/klawrawkz/csla/internal/config"
	"github.com/klawrawkz/csla/internal/db"
	"github.com/klawrawkz/csla/internal/security"
)

type account struct {
	username string
	password string
	roles    []string
}

var accounts = []account{
	{username: "alice", password: "correct-pw", roles: []string{"Admin", "User"}},
	{username: "bob", password: "bob-pw", roles: []string{"User"}},
	{username: "carol", password: "carol-pw"},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SecurityDatabaseURL == "" {
		log.Fatal("SECURITY_DATABASE_URL or DATABASE_URL must be set; create a .env from .env.example")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conn, err := db.Open(ctx, cfg.SecurityDatabaseURL, db.PoolConfig{MaxOpenConns: 1})
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	hasher := security.NewHasher(cfg.BcryptCost)
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		log.Fatalf("begin: %v", err)
	}
	defer func() { _ = tx.Rollback() }()

	created := 0
	for _, a := range accounts {
		hash, err := hasher.Hash(a.password)
		if err != nil {
			log.Fatalf("hash password for %s: %v", a.username, err)
		}
		res, err := tx.ExecContext(ctx,
			`INSERT INTO users (username, password_hash) VALUES ($1, $2) ON CONFLICT (username) DO NOTHING`,
			a.username, hash)
		if err != nil {
			log.Fatalf("create user %s: %v", a.username, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			created++
		}
		for _, role := range a.roles {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO user_roles (username, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
				a.username, role); err != nil {
				log.Fatalf("grant %s to %s: %v", role, a.username, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("commit: %v", err)
	}

	if created == 0 {
		log.Println("Seed already applied. Nothing to do.")
		return
	}
	log.Printf("Seed completed: %d user(s) created.", created)
	for _, a := range accounts {
		fmt.Printf("Login: %s / %s roles=%v\n", a.username, a.password, a.roles)
	}
}
