package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"pestvision-backend/internal/database"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

var (
	ErrInvalidAPIKey = errors.New("invalid api key")
	ErrUserNotFound  = errors.New("user not found")
)

type contextKey struct{}

var userContextKey contextKey

// Service resolves bearer API keys to users. Keys have the form
// "<user_id>.<secret>"; only a bcrypt hash of the secret is stored.
type Service struct {
	db *gorm.DB
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

func (s *Service) CreateUser(ctx context.Context, username string) (database.User, string, error) {
	secretBytes := make([]byte, 32)
	if _, err := rand.Read(secretBytes); err != nil {
		return database.User{}, "", fmt.Errorf("failed to generate api key: %w", err)
	}
	secret := hex.EncodeToString(secretBytes)

	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return database.User{}, "", fmt.Errorf("failed to hash api key: %w", err)
	}

	user := database.User{
		Id:           uuid.New(),
		Username:     username,
		ApiKeyHash:   string(hash),
		CreationTime: time.Now().UTC(),
	}

	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		return database.User{}, "", fmt.Errorf("failed to create user: %w", err)
	}

	return user, user.Id.String() + "." + secret, nil
}

func (s *Service) Authenticate(ctx context.Context, apiKey string) (database.User, error) {
	userIdStr, secret, found := strings.Cut(apiKey, ".")
	if !found {
		return database.User{}, ErrInvalidAPIKey
	}

	userId, err := uuid.Parse(userIdStr)
	if err != nil {
		return database.User{}, ErrInvalidAPIKey
	}

	var user database.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return database.User{}, ErrUserNotFound
		}
		slog.Error("error looking up user for api key", "error", err)
		return database.User{}, fmt.Errorf("error looking up user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.ApiKeyHash), []byte(secret)); err != nil {
		return database.User{}, ErrInvalidAPIKey
	}

	return user, nil
}

// Middleware rejects requests without a valid bearer api key and puts the
// resolved user on the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || token == "" {
			http.Error(w, "missing or malformed authorization header", http.StatusUnauthorized)
			return
		}

		user, err := s.Authenticate(r.Context(), token)
		if err != nil {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

func UserFromContext(ctx context.Context) (database.User, bool) {
	user, ok := ctx.Value(userContextKey).(database.User)
	return user, ok
}
