package app

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"nuha.dev/formrelay/internal/config"
	"nuha.dev/formrelay/internal/ingest"
	"nuha.dev/formrelay/internal/relay"
	"nuha.dev/formrelay/internal/store"
	"nuha.dev/formrelay/internal/store/impl/jsonstore"
	"nuha.dev/formrelay/internal/store/impl/logstore"
	"nuha.dev/formrelay/internal/util"
	"nuha.dev/formrelay/internal/webapp"
)

// App owns the two listeners. They share nothing in memory; the ingest
// socket address is the only thing that ties them together.
type App struct {
	config *config.Config
	root   zerolog.Logger
	log    zerolog.Logger
	store  store.Store
	ingest *ingest.Server
	api    *webapp.Api
}

func NewStore(cfg *config.StoreConfig) (store.Store, error) {
	switch cfg.Format {
	case store.FormatJSONL:
		return logstore.NewStore(cfg.Path), nil
	case store.FormatJSON, "":
		return jsonstore.NewStore(&jsonstore.StoreConfig{Path: cfg.Path, OnCorrupt: cfg.OnCorrupt}), nil
	default:
		return nil, errors.Errorf("unknown store format %q", cfg.Format)
	}
}

func New(cfg *config.Config, logger zerolog.Logger) (*App, error) {
	a := &App{config: cfg, root: logger}
	a.log = logger.With().Str("module", "app").Logger()

	if err := util.EnsureParentDir(cfg.Store.Path); err != nil {
		return nil, errors.Wrap(err, "could not create storage directory")
	}
	st, err := NewStore(&cfg.Store)
	if err != nil {
		return nil, err
	}
	a.store = st
	a.ingest = ingest.NewServer(st, logger, &ingest.ServerConfig{
		ListenAddr: cfg.Ingest.Address,
		BufferSize: cfg.Ingest.BufferSize,
		KeyPolicy:  cfg.Ingest.KeyPolicy,
	})
	return a, nil
}

// Start binds both sockets. The ingest socket goes first so the relay can
// target its real address. If anything after that fails the ingest socket
// is released again.
func (a *App) Start() (err error) {
	if err := a.ingest.Listen(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			a.ingest.Close()
		}
	}()

	target := a.config.Relay.Address
	if target == "" {
		target = loopback(a.ingest.Addr())
	}
	rc, err := relay.New(target)
	if err != nil {
		return err
	}
	a.log.Info().Str("relay_target", rc.Addr()).Msg("relay configured")

	a.api = webapp.NewApi(rc, a.root, &webapp.ApiConfig{
		ListenAddr:      a.config.HTTP.Address,
		StaticRoot:      a.config.Static.Root,
		IndexPage:       a.config.Static.Index,
		MessagePage:     a.config.Static.Message,
		ErrorPage:       a.config.Static.Error,
		MaxConnections:  a.config.HTTP.MaxConnections,
		MaxBodyBytes:    a.config.HTTP.MaxBodyBytes,
		ProxyProtocol:   a.config.HTTP.ProxyProtocol,
		CORSOrigins:     a.config.HTTP.CORSOrigins,
		ReadTimeout:     a.config.HTTP.ReadTimeout,
		WriteTimeout:    a.config.HTTP.WriteTimeout,
		ShutdownTimeout: a.config.ShutdownTimeout,
	})
	return a.api.Listen()
}

// Run blocks until both listeners have returned. A failing listener cancels
// the other one and its error is returned.
func (a *App) Run(ctx context.Context) error {
	if a.api == nil {
		if err := a.Start(); err != nil {
			return err
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.ingest.Run(gctx)
	})
	g.Go(func() error {
		return a.api.Run(gctx)
	})
	err := g.Wait()
	if err != nil {
		a.log.Error().Err(err).Msg("listener failed, shut down")
	} else {
		a.log.Info().Msg("shut down cleanly")
	}
	return err
}

func (a *App) Store() store.Store {
	return a.store
}

func (a *App) HTTPAddr() net.Addr {
	if a.api == nil {
		return nil
	}
	return a.api.Addr()
}

func (a *App) IngestAddr() net.Addr {
	return a.ingest.Addr()
}

// loopback rewrites an unspecified bind address (0.0.0.0, ::) to the
// loopback address of the same family so it can be dialled.
func loopback(addr net.Addr) string {
	ua, ok := addr.(*net.UDPAddr)
	if !ok || !ua.IP.IsUnspecified() {
		return addr.String()
	}
	ip := net.IPv4(127, 0, 0, 1)
	if ua.IP.To4() == nil {
		ip = net.IPv6loopback
	}
	return (&net.UDPAddr{IP: ip, Port: ua.Port}).String()
}
