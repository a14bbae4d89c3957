package cmd

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"

	"pestvision-backend/internal/auth"
	"pestvision-backend/internal/database"
	"pestvision-backend/internal/messaging"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// EnsureUser creates the named user if it does not exist yet. The api key is
// only recoverable at creation time, so it is logged once here.
func EnsureUser(db *gorm.DB, authService *auth.Service, username string) {
	var user database.User
	err := db.Where("username = ?", username).First(&user).Error
	if err == nil {
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("error querying user '%s': %v", username, err)
	}

	user, apiKey, err := authService.CreateUser(context.Background(), username)
	if err != nil {
		log.Fatalf("failed to create user '%s': %v", username, err)
	}

	log.Printf("created user '%s' (id %s), api key: %s", username, user.Id, apiKey)
}

// DrainEvents logs notifications from a receiver until its channel closes.
// Used in local mode where no external consumer is attached.
func DrainEvents(receiver messaging.Receiver) {
	for event := range receiver.Events() {
		slog.Info("notification", "queue", event.Type(), "payload", string(event.Payload()))
		if err := event.Ack(); err != nil {
			slog.Error("error acking notification", "error", err)
		}
	}
}
