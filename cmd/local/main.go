package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"pestvision-backend/cmd"
	"pestvision-backend/internal/api"
	"pestvision-backend/internal/auth"
	"pestvision-backend/internal/classifier"
	"pestvision-backend/internal/database"
	"pestvision-backend/internal/messaging"
	"pestvision-backend/internal/prediction"
	"pestvision-backend/internal/storage"

	"github.com/caarlos0/env/v11"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type Config struct {
	Root string `env:"ROOT" envDefault:"./pestvision"`
	Port int    `env:"PORT" envDefault:"3001"`

	ClassifierType     string        `env:"CLASSIFIER_TYPE" envDefault:"static"`
	ClassifierEndpoint string        `env:"CLASSIFIER_ENDPOINT_URL"`
	ClassifierTimeout  time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"30s"`
	OpenAIModel        string        `env:"OPENAI_MODEL"`

	StaticLabel      string        `env:"STATIC_LABEL" envDefault:"fall_armyworm"`
	StaticConfidence float64       `env:"STATIC_CONFIDENCE" envDefault:"0.87"`
	StaticDelay      time.Duration `env:"STATIC_DELAY" envDefault:"1500ms"`

	DefaultUsername string `env:"DEFAULT_USERNAME" envDefault:"local"`
}

func createDatabase(root string) *gorm.DB {
	path := filepath.Join(root, "db", "pestvision.db")
	if err := os.MkdirAll(filepath.Dir(path), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{TranslateError: true})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	if err := database.GetMigrator(db).Migrate(); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	return db
}

func createServer(db *gorm.DB, store *storage.LocalObjectStore, queue *messaging.InMemoryQueue, cls classifier.Classifier, port int) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"}, // Allow all origins (TODO: make this an env var)
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	workflow := prediction.NewWorkflow(db, store, cls, queue)
	apiHandler := api.NewBackendService(db, workflow, auth.NewService(db))

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	// Uploaded images are served straight from disk, matching the URLs the
	// local store hands out.
	r.Handle("/objects/*", http.StripPrefix("/objects/", http.FileServer(http.Dir(store.BaseDir()))))

	return &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: r,
	}
}

func main() {
	cmd.LoadEnvFile()

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)
	if err := os.MkdirAll(cfg.Root, os.ModePerm); err != nil {
		log.Fatalf("error creating root directory: %v", err)
	}

	logFile, err := os.OpenFile(filepath.Join(cfg.Root, "pestvision.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Fatalf("error opening log file: %v", err)
	}
	defer logFile.Close()

	logDst := io.MultiWriter(os.Stderr, logFile)
	log.SetOutput(logDst)
	slog.SetDefault(slog.New(slog.NewTextHandler(logDst, nil)))

	db := createDatabase(cfg.Root)

	baseURL := fmt.Sprintf("http://localhost:%d/objects", cfg.Port)
	store, err := storage.NewLocalObjectStore(filepath.Join(cfg.Root, "objects"), baseURL)
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}

	cls, err := classifier.NewClassifier(classifier.Config{
		Type:             cfg.ClassifierType,
		EndpointURL:      cfg.ClassifierEndpoint,
		Timeout:          cfg.ClassifierTimeout,
		OpenAIModel:      cfg.OpenAIModel,
		StaticLabel:      cfg.StaticLabel,
		StaticConfidence: cfg.StaticConfidence,
		StaticDelay:      cfg.StaticDelay,
	})
	if err != nil {
		log.Fatalf("Failed to create classifier: %v", err)
	}

	queue := messaging.NewInMemoryQueue()
	defer queue.Close()
	go cmd.DrainEvents(queue)

	cmd.EnsureUser(db, auth.NewService(db), cfg.DefaultUsername)

	server := createServer(db, store, queue, cls, cfg.Port)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		log.Println("Shutting down server...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}
	}()

	log.Printf("server listening on port %d", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on port %d: %v", cfg.Port, err)
	}

	log.Println("Server stopped.")
}
