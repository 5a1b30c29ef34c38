package webapp

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	proxyproto "github.com/pires/go-proxyproto"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/net/netutil"
)

const DefaultMaxBodyBytes = 65507

type ApiConfig struct {
	ListenAddr  string
	StaticRoot  string
	IndexPage   string
	MessagePage string
	ErrorPage   string
	// MaxConnections bounds connections served at once. 1 serves one
	// connection at a time with keep-alives off; others wait in the accept
	// backlog. 0 means no limit.
	MaxConnections  int
	MaxBodyBytes    int64
	ProxyProtocol   bool
	CORSOrigins     []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// Relayer hands a raw submission body to the ingestion side.
type Relayer interface {
	Send(ctx context.Context, body []byte) error
}

type Api struct {
	mu     sync.Mutex
	r      chi.Router
	s      *http.Server
	ln     net.Listener
	config *ApiConfig
	log    zerolog.Logger
	relay  Relayer
}

func NewApi(relay Relayer, logger zerolog.Logger, config *ApiConfig) *Api {
	api := &Api{config: config}
	api.relay = relay
	api.log = logger.With().Str("module", "api-server").Logger()
	if api.config.MaxBodyBytes <= 0 {
		api.config.MaxBodyBytes = DefaultMaxBodyBytes
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(api.accessLog()...)
	if len(config.CORSOrigins) != 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: config.CORSOrigins,
			AllowedMethods: []string{"GET", "HEAD", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
	r.Use(middleware.GetHead)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		api.servePage(w, r, api.config.IndexPage)
	})
	r.Get("/message", func(w http.ResponseWriter, r *http.Request) {
		api.servePage(w, r, api.config.MessagePage)
	})
	r.Get("/*", api.serveStatic)
	r.Post("/", api.submit)
	r.Post("/*", api.submit)
	api.r = r

	api.s = &http.Server{
		Handler:        api.r,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}
	if config.MaxConnections == 1 {
		api.s.SetKeepAlivesEnabled(false)
	}
	return api
}

func (api *Api) Handler() http.Handler {
	return api.r
}

// Listen binds the HTTP listener, applying the connection limit and the
// PROXY protocol wrapper when configured.
func (api *Api) Listen() error {
	ln, err := net.Listen("tcp", api.config.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "api listen on %s", api.config.ListenAddr)
	}
	if api.config.ProxyProtocol {
		ln = &proxyproto.Listener{Listener: ln}
	}
	if api.config.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, api.config.MaxConnections)
	}
	api.mu.Lock()
	api.ln = ln
	api.mu.Unlock()
	return nil
}

func (api *Api) Addr() net.Addr {
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.ln == nil {
		return nil
	}
	return api.ln.Addr()
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (api *Api) Run(ctx context.Context) error {
	api.mu.Lock()
	ln := api.ln
	api.mu.Unlock()
	if ln == nil {
		if err := api.Listen(); err != nil {
			return err
		}
		ln = api.ln
	}

	stopped := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
			stopped <- nil
			return
		}
		timeout := api.config.ShutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		stopped <- api.s.Shutdown(sctx)
	}()

	api.log.Info().Msgf("starting api-server on : %s", ln.Addr())
	err := api.s.Serve(ln)
	if err != http.ErrServerClosed {
		api.log.Error().Err(err).Msg("api-server failed")
		return errors.Wrap(err, "api serve")
	}
	if err := <-stopped; err != nil {
		api.log.Warn().Err(err).Msg("api-server shutdown incomplete")
		return errors.Wrap(err, "api shutdown")
	}
	api.log.Info().Msg("api-server stopped")
	return nil
}
