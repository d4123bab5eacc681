package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"biztreck.org/internal/config"
	"biztreck.org/internal/httpapi"
	"biztreck.org/internal/obs"
	"biztreck.org/internal/session"
)

var version = "0.3.0"

func main() {
	obs.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	api, err := httpapi.New(cfg.Mock, cfg.Token, httpapi.WithVersion(version))
	if err != nil {
		log.Fatalf("httpapi: %v", err)
	}

	// Dev fixture accounts, one per role tier.
	seed := []struct {
		email, password string
		role            session.Role
		profile         session.Profile
	}{
		{"root@biztreck.local", "RootSecret1!", session.RoleSuperAdmin, session.Profile{FirstName: "Root", LastName: "Admin"}},
		{"admin@biztreck.local", "AdminSecret1!", session.RoleAdmin, session.Profile{FirstName: "Org", LastName: "Admin"}},
		{"manager@biztreck.local", "ManagerSecret1!", session.RoleManager, session.Profile{FirstName: "Team", LastName: "Manager"}},
		{"dev@biztreck.local", "DevSecret1!", session.RoleDeveloper, session.Profile{FirstName: "A", LastName: "Developer"}},
		{"client@biztreck.local", "ClientSecret1!", session.RoleClient, session.Profile{FirstName: "A", LastName: "Client"}},
	}
	for _, s := range seed {
		if _, err := api.Seed(s.email, s.password, s.profile, s.role); err != nil {
			log.Fatalf("seed %s: %v", s.email, err)
		}
	}

	srv := &http.Server{
		Addr:              cfg.Mock.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Mock.ReadTimeout,
		ReadHeaderTimeout: cfg.Mock.ReadTimeout,
		WriteTimeout:      cfg.Mock.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting biztreck-mockapi %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Mock.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	log.Println("Stopped")
}
