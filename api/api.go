package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/vocdoni/anonsignal/relay"
	"github.com/vocdoni/anonsignal/storage/census"
	"go.vocdoni.io/dvote/log"
)

// APIConfig type represents the configuration for the API HTTP server.
type APIConfig struct {
	Host   string
	Port   int
	Relay  *relay.Relay
	Census *census.CensusDB
	// AdminToken protects the census registration endpoint. When empty,
	// registration is open.
	AdminToken string
}

// API type represents the relay HTTP server.
type API struct {
	router     *chi.Mux
	server     *http.Server
	relay      *relay.Relay
	census     *census.CensusDB
	adminToken string
}

// New creates a new API instance with the given configuration and starts
// the HTTP server in the background.
func New(conf *APIConfig) (*API, error) {
	a, err := newAPI(conf)
	if err != nil {
		return nil, err
	}
	a.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", conf.Host, conf.Port),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Infow("starting API server", "host", conf.Host, "port", conf.Port)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("failed to start the API server: %v", err)
		}
	}()
	return a, nil
}

// newAPI builds the router without listening.
func newAPI(conf *APIConfig) (*API, error) {
	if conf == nil {
		return nil, fmt.Errorf("missing API configuration")
	}
	if conf.Relay == nil {
		return nil, fmt.Errorf("missing relay instance")
	}
	if conf.Census == nil {
		return nil, fmt.Errorf("missing census instance")
	}
	a := &API{
		relay:      conf.Relay,
		census:     conf.Census,
		adminToken: conf.AdminToken,
	}
	a.initRouter()
	return a, nil
}

// Router returns the chi router for testing purposes
func (a *API) Router() *chi.Mux {
	return a.router
}

// Close shuts the HTTP server down, waiting for the ongoing requests until
// ctx is done.
func (a *API) Close(ctx context.Context) error {
	if a.server == nil {
		return nil
	}
	return a.server.Shutdown(ctx)
}

// registerHandlers registers all the API handlers.
func (a *API) registerHandlers() {
	log.Infow("register handler", "endpoint", PingEndpoint, "method", "GET")
	a.router.Get(PingEndpoint, func(w http.ResponseWriter, r *http.Request) {
		httpWriteOK(w)
	})
	log.Infow("register handler", "endpoint", GreetEndpoint, "method", "POST")
	a.router.Post(GreetEndpoint, a.greet)
	log.Infow("register handler", "endpoint", GreetReceiptEndpoint, "method", "GET")
	a.router.Get(GreetReceiptEndpoint, a.greetReceipt)
	log.Infow("register handler", "endpoint", CensusRootEndpoint, "method", "GET")
	a.router.Get(CensusRootEndpoint, a.censusRoot)
	log.Infow("register handler", "endpoint", CensusCommitmentsEndpoint, "method", "GET")
	a.router.Get(CensusCommitmentsEndpoint, a.censusCommitments)
	log.Infow("register handler", "endpoint", CensusCommitmentsEndpoint, "method", "POST")
	a.router.Post(CensusCommitmentsEndpoint, a.addCensusCommitments)
	log.Infow("register handler", "endpoint", MetricsEndpoint, "method", "GET")
	a.router.Method(http.MethodGet, MetricsEndpoint,
		promhttp.HandlerFor(a.relay.Metrics().Registry, promhttp.HandlerOpts{}))
}

// initRouter creates the router with all the routes and middleware.
func (a *API) initRouter() {
	// Create the router with a basic middleware stack
	a.router = chi.NewRouter()
	a.router.Use(cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		AllowCredentials: true,
		MaxAge:           300, // Maximum value not ignored by any of major browsers
	}).Handler)
	a.router.Use(middleware.Logger)
	a.router.Use(middleware.Recoverer)
	a.router.Use(middleware.Throttle(100))
	a.router.Use(middleware.ThrottleBacklog(5000, 40000, 60*time.Second))
	// greet waits for the ledger confirmation, the relay bounds that wait
	a.router.Use(middleware.Timeout(2 * relay.DefaultConfirmationTimeout))

	// Register the API handlers
	a.registerHandlers()
}
