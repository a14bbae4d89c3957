package main

import (
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"pestvision-backend/cmd"
	"pestvision-backend/internal/messaging"

	"github.com/caarlos0/env/v11"
)

type WorkerConfig struct {
	RabbitMQURL string `env:"RABBITMQ_URL,notEmpty,required"`
}

// The worker consumes prediction notifications published by the API server.
// Deliveries are acked after logging; a downstream push channel (email, mobile
// push) would hang off this loop.
func main() {
	log.Println("Starting notification worker...")

	cmd.LoadEnvFile()

	var cfg WorkerConfig
	if err := env.Parse(&cfg); err != nil {
		log.Fatalf("error parsing config: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	defer receiver.Close()

	done := make(chan struct{})
	go func() {
		cmd.DrainEvents(receiver)
		close(done)
	}()

	slog.Info("notification worker started, waiting for events")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Println("Shutting down worker...")
		receiver.Close()
		<-done
	case <-done:
		log.Println("Event stream closed.")
	}

	log.Println("Worker stopped.")
}
