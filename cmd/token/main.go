// Command token prints an operator access token signed with JWT_SECRET.
//
//	JWT_SECRET=... go run ./cmd/token -sub ops@example.com -role viewer
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"voice-lead-agent/internal/auth"
	"voice-lead-agent/internal/config"
	"voice-lead-agent/internal/rbac"
	"voice-lead-agent/pkg/logger"
)

func main() {
	sub := flag.String("sub", "", "token subject, usually the operator's email")
	role := flag.String("role", rbac.RoleViewer, "operator role: admin or viewer")
	flag.Parse()

	// Logs go to stderr so stdout carries only the token.
	log := logger.Component(logger.NewWithWriter(os.Getenv("APP_ENV"), os.Stderr), "token")

	if *sub == "" {
		log.Error("-sub is required")
		os.Exit(2)
	}
	if !rbac.IsKnownRole(*role) {
		log.Error("unknown role", "role", *role)
		os.Exit(2)
	}

	cfg, err := config.LoadAuth()
	if err != nil {
		log.Error("auth config load failed", "err", err)
		os.Exit(1)
	}
	m, err := auth.NewManager(cfg)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}
	tok, err := m.Issue(time.Now(), *sub, *role)
	if err != nil {
		log.Error("issue token failed", "err", err)
		os.Exit(1)
	}
	log.Info("token issued", "sub", *sub, "role", *role, "ttl", cfg.AccessTokenTTL.String())
	fmt.Println(tok)
}
