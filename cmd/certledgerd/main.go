package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"google.golang.org/grpc"

	"xdao.co/certledger/authority"
	"xdao.co/certledger/config"
	"xdao.co/certledger/httpapi"
	"xdao.co/certledger/issuance"
	"xdao.co/certledger/keys"
	"xdao.co/certledger/storage"
	"xdao.co/certledger/storage/grpcstore"
	"xdao.co/certledger/storage/storeconfig"
	"xdao.co/certledger/storage/storeregistry"
	"xdao.co/certledger/token"

	_ "xdao.co/certledger/storage/localfs"
	_ "xdao.co/certledger/storage/memstore"
	_ "xdao.co/certledger/storage/sqlitestore"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, out io.Writer, errOut io.Writer) int {
	fs := flag.NewFlagSet("certledgerd", flag.ContinueOnError)
	fs.SetOutput(errOut)
	configPath := fs.String("config", "", "YAML config file (CERTLEDGER_* env vars override it)")
	listen := fs.String("listen", "127.0.0.1:7777", "gRPC store listen address (without --config)")
	readOnly := fs.Bool("read-only", false, "Refuse allocations over gRPC (without --config)")
	httpListen := fs.String("http-listen", "", "HTTP gateway listen address (without --config)")
	backend := fs.String("backend", "localfs", "Storage backend name (without --config)")
	listBackends := fs.Bool("list-backends", false, "List supported backends and exit")

	storeregistry.RegisterFlags(fs, storeregistry.UsageDaemon)

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *listBackends {
		for _, b := range storeregistry.List(storeregistry.UsageDaemon) {
			if b.Description == "" {
				_, _ = fmt.Fprintf(out, "%s\n", b.Name)
				continue
			}
			_, _ = fmt.Fprintf(out, "%s\t%s\n", b.Name, b.Description)
		}
		return 0
	}

	var cfg *config.Config
	var st storage.Store
	var closeFn func() error
	var err error
	if *configPath != "" {
		if cfg, err = config.LoadWithEnv(*configPath); err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		st, closeFn, err = cfg.Storage.Open(storeregistry.UsageDaemon)
	} else {
		c := config.Default()
		c.GRPC.Listen = *listen
		c.GRPC.ReadOnly = *readOnly
		c.HTTP.Listen = *httpListen
		c.Storage = storeconfig.Config{Primary: storeconfig.BackendConfig{Name: *backend}}
		if err := config.ApplyEnv(&c, os.Getenv); err != nil {
			fmt.Fprintln(errOut, err)
			return 2
		}
		cfg = &c
		st, closeFn, err = storeregistry.Open(*backend, storeregistry.UsageDaemon)
	}
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	if closeFn != nil {
		defer closeFn()
	}

	logger := cfg.NewLogger(errOut)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, st, logger); err != nil {
		logger.Error("certledgerd stopped", "error", err)
		return 1
	}
	return 0
}

// serve runs the configured listeners until ctx is done or one of them fails.
func serve(ctx context.Context, cfg *config.Config, st storage.Store, logger *slog.Logger) error {
	errc := make(chan error, 2)

	if cfg.GRPC.Listen != "" {
		lis, err := net.Listen("tcp", cfg.GRPC.Listen)
		if err != nil {
			return err
		}
		store := newStoreServer(cfg, st, logger)
		s := grpc.NewServer()
		grpcstore.RegisterStoreServer(s, store)
		defer func() {
			s.GracefulStop()
			store.Close()
		}()
		logger.Info("grpc store listening", "addr", lis.Addr().String(), "backend", cfg.Storage.Primary.Name, "read_only", cfg.GRPC.ReadOnly)
		go func() { errc <- s.Serve(lis) }()
	}

	if cfg.HTTP.Listen != "" {
		gw, err := newGateway(cfg, st, logger)
		if err != nil {
			return err
		}
		defer func() { _ = gw.Shutdown() }()
		go func() { errc <- gw.Listen(cfg.HTTP.Listen) }()
	}

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil
	case err := <-errc:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// newStoreServer admits allocations against signed issuance requests unless
// the service is configured read-only.
func newStoreServer(cfg *config.Config, st storage.Store, logger *slog.Logger) *grpcstore.Server {
	srv := &grpcstore.Server{
		Store:          st,
		ProgramID:      cfg.ProgramAddress(),
		ReservationTTL: cfg.ReservationTTLDuration(),
		Logger:         logger,
	}
	if !cfg.GRPC.ReadOnly {
		srv.Authorizer = authority.Verifier{}
	}
	return srv
}

func newGateway(cfg *config.Config, st storage.Store, logger *slog.Logger) (*httpapi.Server, error) {
	engOpts := issuance.Options{ProgramID: cfg.ProgramAddress(), Logger: logger}
	apiOpts := httpapi.Options{Logger: logger, BodyLimit: cfg.HTTP.BodyLimit}

	if cfg.Tokens.Enabled {
		b, err := os.ReadFile(cfg.Tokens.SeedFile)
		if err != nil {
			return nil, fmt.Errorf("tokens: %w", err)
		}
		seed, err := keys.ParseSeedHex(string(b))
		if err != nil {
			return nil, fmt.Errorf("tokens: %w", err)
		}
		svc, err := token.NewService(seed)
		if err != nil {
			return nil, err
		}
		svc.TTL = cfg.TokenTTLDuration()
		engOpts.Minter = svc
		apiOpts.Tokens = svc
		logger.Info("verification tokens enabled", "attestor", svc.Attestor().String())
	}

	eng := issuance.New(st, authority.Verifier{}, engOpts)
	return httpapi.New(eng, apiOpts), nil
}
