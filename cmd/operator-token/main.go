package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/mwork/chat-governor/internal/config"
	"github.com/mwork/chat-governor/internal/pkg/jwt"
)

func main() {
	name := flag.String("name", "", "operator name recorded in the token")
	role := flag.String("role", jwt.RoleOperator, "token role: operator or viewer")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to OPERATOR_JWT_TTL")
	flag.Parse()

	if *name == "" {
		log.Fatal("-name is required")
	}
	if *role != jwt.RoleOperator && *role != jwt.RoleViewer {
		log.Fatalf("Unknown role %q", *role)
	}

	cfg := config.Load()
	lifetime := cfg.OperatorJWTTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := jwt.NewService(cfg.JWTSecret, lifetime).GenerateOperatorToken(*name, *role)
	if err != nil {
		log.Fatalf("Failed to sign token: %v", err)
	}

	fmt.Println(token)
	log.Printf("Token for %s (%s) expires at %s", *name, *role, time.Now().Add(lifetime).Format(time.RFC3339))
}
