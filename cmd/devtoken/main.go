package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"linguahub/config"
	"linguahub/internal/identity"
)

// devtoken prints a bearer token for a local server running the jwt identity provider.
func main() {
	subject := flag.String("sub", "", "Token subject (required)")
	email := flag.String("email", "", "Email claim")
	ttl := flag.Duration("ttl", time.Hour, "Token lifetime")
	configPath := flag.String("config", config.Path(), "Path to config file")
	flag.Parse()

	if *subject == "" {
		fmt.Println("Error: sub is required")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Identity.Provider != "jwt" {
		log.Fatalf("identity.provider is %q; tokens can only be issued for the jwt provider", cfg.Identity.Provider)
	}

	verifier, err := identity.NewJWTVerifier(cfg.Identity.JWTSecret)
	if err != nil {
		log.Fatalf("Failed to build verifier: %v", err)
	}
	token, err := verifier.IssueToken(*subject, *email, *ttl)
	if err != nil {
		log.Fatalf("Failed to issue token: %v", err)
	}
	fmt.Println(token)
}
