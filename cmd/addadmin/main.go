package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"linguahub/config"
	"linguahub/db"
	"linguahub/models"
)

// addadmin grants the admin flag and a casbin role to an existing learner.
// Learners are created on first sign-in, so the account must have logged in once.
func main() {
	email := flag.String("email", "", "Learner email (required)")
	role := flag.String("role", models.RoleAdmin, "Role: 'admin' or 'moderator'")
	configPath := flag.String("config", config.Path(), "Path to config file")
	flag.Parse()

	if *email == "" {
		fmt.Println("Error: email is required")
		fmt.Println("\nUsage:")
		flag.PrintDefaults()
		os.Exit(1)
	}
	if *role != models.RoleAdmin && *role != models.RoleModerator {
		fmt.Println("Error: role must be 'admin' or 'moderator'")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := db.ConnectMongoDB(cfg.Database.URI); err != nil {
		log.Fatalf("Failed to connect to MongoDB: %v", err)
	}
	defer db.MongoClient.Disconnect(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := db.NewProgressionStore(db.MongoDatabase)
	if err := store.SetAdmin(ctx, *email, *role); err != nil {
		if errors.Is(err, db.ErrNotFound) {
			log.Fatalf("No learner with email %s. They must sign in once first.", *email)
		}
		log.Fatalf("Failed to grant role: %v", err)
	}

	fmt.Printf("Granted %s to %s\n", *role, *email)
}
