package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"github.com/susu3304/splitbot/internal/config"
	"github.com/susu3304/splitbot/internal/conversation"
	"github.com/susu3304/splitbot/internal/db"
	"github.com/susu3304/splitbot/internal/media"
)

const (
	discordAPIBase    = "https://discord.com/api"
	defaultSMSTimeout = 2 * time.Minute
	maxMediaBytes     = 10 << 20
)

// Conversation is the state machine the webhook drives. Current resumes
// stored sessions, so it sees conversations the registry lost on restart.
type Conversation interface {
	Deliver(ctx context.Context, id string, ev conversation.Event) ([]conversation.Outbound, error)
	Current(ctx context.Context, id string) (conversation.Snapshot, bool)
}

type Sessions interface {
	Get(id string) (conversation.Snapshot, bool)
	Snapshots() []conversation.Snapshot
}

type Payments interface {
	PaymentRequestsBySession(ctx context.Context, sessionID string) ([]db.PaymentRequest, error)
}

// Deps are the services behind the HTTP surface. Payments may be nil when
// no database is configured.
type Deps struct {
	Conversation Conversation
	Sessions     Sessions
	Payments     Payments
	Logger       *zap.Logger
	HTTPClient   *http.Client

	// EventTimeout bounds one SMS webhook call.
	EventTimeout time.Duration
}

type API struct {
	router      *mux.Router
	config      *config.Config
	conv        Conversation
	sessions    Sessions
	payments    Payments
	media       media.Fetcher
	log         *zap.Logger
	oauthConfig *oauth2.Config
	jwtSecret   []byte
	discordAPI  string
	smsTimeout  time.Duration
	smsToken    []byte
	server      *http.Server
}

func New(cfg *config.Config, deps Deps) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	smsTimeout := deps.EventTimeout
	if smsTimeout <= 0 {
		smsTimeout = defaultSMSTimeout
	}
	api := &API{
		router:     mux.NewRouter(),
		config:     cfg,
		conv:       deps.Conversation,
		sessions:   deps.Sessions,
		payments:   deps.Payments,
		media:      media.Fetcher{Client: client, MaxBytes: maxMediaBytes},
		log:        logger.Named("api"),
		jwtSecret:  []byte(cfg.JWTSecret),
		discordAPI: discordAPIBase,
		smsTimeout: smsTimeout,
		smsToken:   []byte(cfg.PlivoAuthToken),
		oauthConfig: &oauth2.Config{
			ClientID:     cfg.DiscordClientID,
			ClientSecret: cfg.DiscordClientSecret,
			RedirectURL:  cfg.DiscordRedirectURI,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:  "https://discord.com/api/oauth2/authorize",
				TokenURL: "https://discord.com/api/oauth2/token",
			},
		},
	}

	api.setupRoutes()
	return api
}

func (a *API) setupRoutes() {
	// Public endpoints
	a.router.HandleFunc("/api/healthz", a.handleHealth).Methods("GET")
	a.router.HandleFunc("/api/webhook/sms", a.handleSMS).Methods("POST")

	// Auth endpoints
	a.router.HandleFunc("/api/auth/login", a.handleLogin).Methods("GET")
	a.router.HandleFunc("/api/auth/callback", a.handleCallback).Methods("GET")
	a.router.HandleFunc("/api/auth/logout", a.handleLogout).Methods("POST")

	// Protected endpoints
	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(a.authMiddleware)

	protected.HandleFunc("/sessions", a.handleListSessions).Methods("GET")
	protected.HandleFunc("/sessions/{id}", a.handleGetSession).Methods("GET")
	protected.HandleFunc("/sessions/{id}/payments", a.handleSessionPayments).Methods("GET")
}

// Handler is the router wrapped with CORS.
func (a *API) Handler() http.Handler {
	// When AllowedOrigins is "*", AllowCredentials must be false
	corsOptions := cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: false,
	}
	return cors.New(corsOptions).Handler(a.router)
}

// Start serves until Shutdown is called.
func (a *API) Start() error {
	a.server = &http.Server{
		Addr:              a.config.WebBind,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.log.Info("API server listening", zap.String("addr", "http://"+a.config.WebBind))
	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (a *API) Shutdown(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}
