package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mahgate/internal/config"
	"mahgate/internal/logging"
	"mahgate/internal/submit"
)

func main() {
	configPath := flag.String("config", "./configs/mahgate.yaml", "path to config file")
	addr := flag.String("addr", ":9090", "listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New()

	var mailer submit.Mailer
	if cfg.Mail.SMTPHost != "" {
		mailer = &submit.SMTPMailer{
			Host:     cfg.Mail.SMTPHost,
			Port:     cfg.Mail.SMTPPort,
			Username: cfg.Mail.Username,
			Password: cfg.Mail.Password,
			From:     cfg.Mail.From,
			To:       cfg.Mail.To,
		}
	} else {
		logger.Info("no smtp host configured, mail will be logged only")
		mailer = &submit.LogMailer{Logger: logger}
	}

	handler := submit.NewHandler(mailer, &submit.RequestLog{Dir: cfg.Mail.LogDir}, logger)

	mux := http.NewServeMux()
	mux.Handle("/api/request", handler)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})

	srv := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("requestd listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down gracefully...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}
}
