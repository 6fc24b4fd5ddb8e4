package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/obcare/backend/internal/call"
	"github.com/obcare/backend/internal/config"
	"github.com/obcare/backend/internal/feed"
	"github.com/obcare/backend/internal/fileserver"
	"github.com/obcare/backend/internal/handler"
	"github.com/obcare/backend/internal/logger"
	"github.com/obcare/backend/internal/middleware"
	"github.com/obcare/backend/internal/push"
	"github.com/obcare/backend/internal/repository"
	"github.com/obcare/backend/internal/startup"
	"github.com/obcare/backend/migrations"
)

func main() {
	logger.SetPrefix("api")
	migrate := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()

	logger.Info("starting API service")
	cfg := config.Load()

	var embeddedDB *embeddedpostgres.EmbeddedPostgres
	if *dev {
		var err error
		embeddedDB, err = startEmbeddedPostgres(cfg)
		if err != nil {
			logger.Errorf("embedded postgres: %v", err)
			os.Exit(1)
		}
		defer func() {
			logger.Info("stopping embedded postgres...")
			if err := embeddedDB.Stop(); err != nil {
				logger.Errorf("embedded postgres stop: %v", err)
			}
		}()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL())
	if err != nil {
		logger.Errorf("parse db config: %v", err)
		os.Exit(1)
	}
	poolCfg.MaxConns = int32(cfg.DBMaxConnections())
	poolCfg.MinConns = 4

	pool := startup.ConnectDBWithRetry(poolCfg, 60*time.Second, "")
	defer pool.Close()

	runMigrations(pool)
	if *migrate && !*dev {
		return
	}

	// После рестарта никто не онлайн, пока не откроет feed-соединение
	resetCtx, resetCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if _, err := pool.Exec(resetCtx, "UPDATE users SET is_online = false"); err != nil {
		logger.Errorf("reset online status: %v", err)
	}
	resetCancel()
	logger.Info("database connected, migrations applied")

	userRepo := repository.NewUserRepository(pool)
	roomRepo := repository.NewRoomRepository(pool)
	msgRepo := repository.NewMessageRepository(pool)
	apptRepo := repository.NewAppointmentRepository(pool)
	callRepo := repository.NewCallRepository(pool)
	articleRepo := repository.NewArticleRepository(pool)
	insightRepo := repository.NewInsightRepository(pool)

	pushClient := push.NewClient(cfg.PushServiceURL)
	typingStore := startup.ConnectTypingStore(cfg.Redis.URL, cfg.TypingTTL)
	defer typingStore.Close()

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := feed.NewHub(roomRepo, userRepo, typingStore, cfg.MaxWSConnections)

	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	orch := call.NewOrchestrator(callRepo, apptRepo, cfg.Call.RingTimeout)
	tokens := call.NewTokenIssuer(cfg.Call.MediaTokenSecret, cfg.Call.MediaTokenTTL)
	files := fileserver.New(cfg.UploadDir, cfg.MaxUploadSize)

	roomH := handler.NewRoomHandler(roomRepo, userRepo, msgRepo, apptRepo)
	msgH := handler.NewMessageHandler(msgRepo, roomRepo, apptRepo, hub, pushClient)
	callH := handler.NewCallHandler(orch, tokens, roomRepo, msgRepo, hub, pushClient)
	userH := handler.NewUserHandler(userRepo)
	staffH := handler.NewStaffHandler(userRepo)
	apptH := handler.NewAppointmentHandler(apptRepo, userRepo)
	articleH := handler.NewArticleHandler(articleRepo)
	insightH := handler.NewInsightHandler(insightRepo, userRepo)
	fileH := handler.NewFileHandler(files)
	pushH := handler.NewPushHandler(pushClient)
	configH := handler.NewConfigHandler(cfg)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	// Протухшие ringing-сессии закрывает фоновая уборка; исход доезжает до
	// клиентов через тот же feed, что и обычный отбой.
	orch.SetNotifier(callH)
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		orch.RunSweeper(hubCtx, 15*time.Second)
	}()

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket — иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.RateLimitAPI)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{cfg.CORSAllowedOrigins},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Session-Id", "X-Timestamp", "X-Signature"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK); w.Write([]byte("ok")) })
	r.Get("/api/config", configH.Get)
	r.Get("/api/files/{filename}", fileH.Serve)

	if cfg.AuthServiceURL != "" {
		authProxy := authProxyHandler(cfg.AuthServiceURL)
		r.Post("/api/auth/request-code", authProxy)
		r.Post("/api/auth/verify-code", authProxy)
		r.Post("/api/auth/logout", authProxy)
	}

	// Сервис авторизации заводит учётку после регистрации
	r.Group(func(r chi.Router) {
		r.Use(middleware.InternalOnly)
		r.Post("/internal/users", staffH.ProvisionUser)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.AuthServiceValidate(cfg.AuthServiceURL, nil))
		r.Use(middleware.RequireUser(userRepo))

		r.Get("/api/users/me", userH.Me)
		r.Put("/api/users/me", userH.UpdateProfile)
		r.Put("/api/users/me/lmp", userH.SetLMP)
		r.Get("/api/doctors", userH.Doctors)

		r.Get("/api/rooms", roomH.List)
		r.Post("/api/rooms", roomH.Ensure)
		r.Get("/api/rooms/{roomID}", roomH.Get)
		r.Get("/api/rooms/{roomID}/entitlement", roomH.Entitlement)
		r.Get("/api/rooms/{roomID}/messages", msgH.List)
		r.Post("/api/rooms/{roomID}/messages", msgH.Send)
		r.Post("/api/rooms/{roomID}/seen", msgH.MarkSeen)
		r.Post("/api/messages/{messageID}/unsend", msgH.Unsend)

		r.Post("/api/rooms/{roomID}/calls", callH.Start)
		r.Post("/api/calls/{callID}/accept", callH.Accept)
		r.Post("/api/calls/{callID}/end", callH.End)

		r.Post("/api/appointments", apptH.Create)
		r.Get("/api/appointments", apptH.ListMine)
		r.Get("/api/appointments/{appointmentID}", apptH.Get)
		r.Put("/api/appointments/{appointmentID}/status", apptH.UpdateStatus)

		r.Get("/api/articles", articleH.ListPublished)
		r.Get("/api/articles/{articleID}", articleH.Get)

		r.Get("/api/insights", insightH.List)
		r.Get("/api/insights/current", insightH.Current)
		r.Get("/api/insights/week", insightH.ByWeek)

		r.With(middleware.RateLimitUploads).Post("/api/files/upload", fileH.Upload)
		r.Post("/api/push/subscribe", pushH.Subscribe)
		r.Delete("/api/push/subscribe", pushH.Unsubscribe)
		r.Get("/ws/feed", wsH.ServeFeed)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireStaff)
			r.Get("/api/staff/appointments", apptH.ListAll)
			r.Get("/api/staff/users", staffH.ListUsers)
			r.Put("/api/staff/users/{userID}/role", staffH.SetRole)
			r.Put("/api/staff/users/{userID}/disable", staffH.SetDisabled)
			r.Get("/api/patients", userH.Patients)
			r.Get("/api/patients/{userID}", userH.GetPatient)
			r.Get("/api/staff/articles", articleH.ListAll)
			r.Post("/api/articles", articleH.Create)
			r.Put("/api/articles/{articleID}", articleH.Update)
			r.Put("/api/articles/{articleID}/publish", articleH.SetPublished)
			r.Delete("/api/articles/{articleID}", articleH.Delete)
		})
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
}

func authProxyHandler(authBaseURL string) http.HandlerFunc {
	client := &http.Client{Timeout: 15 * time.Second}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, `{"error":"bad request"}`, http.StatusBadRequest)
			return
		}
		targetURL := strings.TrimSuffix(authBaseURL, "/") + r.URL.Path
		proxyReq, err := http.NewRequestWithContext(r.Context(), http.MethodPost, targetURL, bytes.NewReader(body))
		if err != nil {
			http.Error(w, `{"error":"internal"}`, http.StatusInternalServerError)
			return
		}
		proxyReq.Header.Set("Content-Type", r.Header.Get("Content-Type"))
		if proxyReq.Header.Get("Content-Type") == "" {
			proxyReq.Header.Set("Content-Type", "application/json")
		}
		resp, err := client.Do(proxyReq)
		if err != nil {
			logger.Errorf("auth proxy: %v", err)
			http.Error(w, `{"error":"auth service unavailable"}`, http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		w.Header().Set("Content-Type", resp.Header.Get("Content-Type"))
		w.WriteHeader(resp.StatusCode)
		io.Copy(w, resp.Body)
	}
}

func runMigrations(pool *pgxpool.Pool) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	entries, err := migrations.Files.ReadDir(".")
	if err != nil {
		logger.Errorf("read migrations: %v", err)
		os.Exit(1)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		data, err := migrations.Files.ReadFile(name)
		if err != nil {
			logger.Errorf("read migration %s: %v", name, err)
			os.Exit(1)
		}
		if _, err := pool.Exec(ctx, string(data)); err != nil {
			logger.Errorf("run migration %s: %v", name, err)
			os.Exit(1)
		}
	}
	logger.Info("migrations applied")
}

func startEmbeddedPostgres(cfg *config.Config) (*embeddedpostgres.EmbeddedPostgres, error) {
	const (
		port     = 5432
		user     = "obcare"
		password = "obcare_secret"
		database = "obcare"
	)

	dataDir := filepath.Join(".", ".pgdata")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create pgdata dir: %w", err)
	}

	db := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Port(port).
			Username(user).
			Password(password).
			Database(database).
			DataPath(dataDir).
			RuntimePath(filepath.Join(os.TempDir(), "embedded-pg-runtime")),
	)

	logger.Info("starting embedded PostgreSQL...")
	if err := db.Start(); err != nil {
		return nil, fmt.Errorf("start: %w", err)
	}

	cfg.Database.URL = fmt.Sprintf(
		"postgres://%s:%s@localhost:%d/%s?sslmode=disable",
		user, password, port, database,
	)
	logger.Infof("embedded PostgreSQL running on port %d", port)
	return db, nil
}
