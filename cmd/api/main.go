package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
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
)

type APIConfig struct {
	DatabaseURL       string        `env:"DATABASE_URL,notEmpty,required"`
	RabbitMQURL       string        `env:"RABBITMQ_URL,notEmpty,required"`
	S3EndpointURL     string        `env:"S3_ENDPOINT_URL,notEmpty,required"`
	S3AccessKeyID     string        `env:"AWS_ACCESS_KEY_ID,notEmpty,required"`
	S3SecretAccessKey string        `env:"AWS_SECRET_ACCESS_KEY,notEmpty,required"`
	S3Region          string        `env:"AWS_REGION,notEmpty,required"`
	UploadBucketName  string        `env:"UPLOAD_BUCKET_NAME" envDefault:"predictions"`
	ImageURLExpiry    time.Duration `env:"IMAGE_URL_EXPIRY" envDefault:"24h"`

	ClassifierType     string        `env:"CLASSIFIER_TYPE" envDefault:"static"`
	ClassifierEndpoint string        `env:"CLASSIFIER_ENDPOINT_URL"`
	ClassifierTimeout  time.Duration `env:"CLASSIFIER_TIMEOUT" envDefault:"30s"`
	OpenAIModel        string        `env:"OPENAI_MODEL"`

	APIPort string `env:"API_PORT" envDefault:"8001"`
}

func main() {
	log.Println("Starting API Server...")

	cmd.LoadEnvFile()

	var cfg APIConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	db, err := database.NewDatabase(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	store, err := storage.NewS3ObjectStore(cfg.UploadBucketName, storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		URLExpiry:       cfg.ImageURLExpiry,
	})
	if err != nil {
		log.Fatalf("Failed to create object store: %v", err)
	}
	if err := store.CreateBucket(context.Background()); err != nil {
		log.Fatalf("Failed to create upload bucket: %v", err)
	}

	notifier, err := messaging.NewRabbitMQNotifier(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer notifier.Close()

	cls, err := classifier.NewClassifier(classifier.Config{
		Type:        cfg.ClassifierType,
		EndpointURL: cfg.ClassifierEndpoint,
		Timeout:     cfg.ClassifierTimeout,
		OpenAIModel: cfg.OpenAIModel,
	})
	if err != nil {
		log.Fatalf("Failed to create classifier: %v", err)
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	workflow := prediction.NewWorkflow(db, store, cls, notifier)
	apiHandler := api.NewBackendService(db, workflow, auth.NewService(db))

	apiHandler.AddRoutes(r)

	server := &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}

	// Goroutine for graceful shutdown
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

	log.Printf("API server listening on port %s", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	log.Println("Server stopped.")
}
