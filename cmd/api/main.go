package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"invoicelens/api/internal/app"
	"invoicelens/api/internal/authpw"
	"invoicelens/api/internal/billing"
	"invoicelens/api/internal/cache"
	"invoicelens/api/internal/config"
	"invoicelens/api/internal/email"
	"invoicelens/api/internal/realtime"
	"invoicelens/api/internal/search"
	"invoicelens/api/internal/session"
	"invoicelens/api/internal/storage"
	"invoicelens/api/internal/store"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	db, err := store.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer db.Close()

	if err := store.ApplyMigrations(ctx, db); err != nil {
		log.Fatalf("migrations failed: %v", err)
	}

	dataStore := store.NewPostgresStore(db)

	sessions, err := session.NewRedisStore(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis connection failed: %v", err)
	}
	defer sessions.Close()

	queries, err := cache.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis cache connection failed: %v", err)
	}
	defer queries.Close()

	changes, err := realtime.New(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis pubsub connection failed: %v", err)
	}
	defer changes.Close()

	objects, err := storage.New(ctx, storage.Config{
		Endpoint:  cfg.StorageEndpoint,
		AccessKey: cfg.StorageAccessKey,
		SecretKey: cfg.StorageSecretKey,
		Bucket:    cfg.StorageBucket,
		UseSSL:    cfg.StorageUseSSL,
	})
	if err != nil {
		log.Fatalf("object storage connection failed: %v", err)
	}

	fallback := search.NewPgFallback(dataStore)
	var meiliClient *search.Meili
	if strings.TrimSpace(cfg.MeiliURL) != "" {
		meiliClient = search.NewMeili(cfg.MeiliURL, cfg.MeiliMasterKey)
		defer meiliClient.Close()
	}
	searchService := search.NewService(meiliClient, fallback)
	if meiliClient != nil {
		// Rebuild the index from the database so searches survive a wiped
		// or freshly provisioned Meilisearch instance.
		go func() {
			files, err := dataStore.ListInvoiceFilesForIndex(ctx)
			if err != nil {
				log.Printf("search reindex skipped: %v", err)
				return
			}
			records := make([]search.FileRecord, 0, len(files))
			for _, f := range files {
				clientID := ""
				if f.ClientID != nil {
					clientID = *f.ClientID
				}
				records = append(records, search.NewFileRecord(f.ID, f.OrgID, f.FileName, clientID, f.ClientName, f.CreatedAt))
			}
			searchService.ReindexAll(records)
		}()
	}

	mail := email.NewService(email.Config{
		Host:     cfg.SMTPHost,
		Port:     cfg.SMTPPort,
		Username: cfg.SMTPUsername,
		Password: cfg.SMTPPassword,
		From:     cfg.SMTPFrom,
		FromName: cfg.SMTPFromName,
	})
	if mail.IsConfigured() {
		log.Printf("SMTP configured, transactional email enabled")
	}

	billingService := billing.NewService(dataStore, cfg.MidtransServerKey, cfg.MidtransProduction)
	authService := authpw.NewService(dataStore)

	service := app.New(cfg, dataStore, sessions, queries, changes, objects, searchService, mail, billingService, authService)

	// Change events from other replicas drop our cached reads, so clients
	// refetch fresh data instead of waiting out the TTL.
	subCtx, stopSub := context.WithCancel(ctx)
	defer stopSub()
	go func() {
		err := changes.Subscribe(subCtx, func(orgID string, event realtime.Event) {
			if err := queries.Invalidate(subCtx, event.Topic+".list:"+orgID, event.Topic+".counts:"+orgID, event.Topic+".columns:"+orgID); err != nil {
				log.Printf("invalidate on change event: %v", err)
			}
		})
		if err != nil && subCtx.Err() == nil {
			log.Printf("change subscription stopped: %v", err)
		}
	}()

	httpServer := app.NewHTTPServer(service, cfg.CORSOrigin)
	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Printf("Invoicelens API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
