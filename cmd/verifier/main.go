package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/punchamoorthee/packetverifier/internal/api"
	"github.com/punchamoorthee/packetverifier/internal/balances"
	"github.com/punchamoorthee/packetverifier/internal/burner"
	"github.com/punchamoorthee/packetverifier/internal/chain"
	"github.com/punchamoorthee/packetverifier/internal/config"
	"github.com/punchamoorthee/packetverifier/internal/domain"
	"github.com/punchamoorthee/packetverifier/internal/logger"
	"github.com/punchamoorthee/packetverifier/internal/messaging"
	"github.com/punchamoorthee/packetverifier/internal/orgs"
	"github.com/punchamoorthee/packetverifier/internal/pending"
	"github.com/punchamoorthee/packetverifier/internal/service"
	"github.com/punchamoorthee/packetverifier/internal/store"
	"github.com/punchamoorthee/packetverifier/internal/verifier"
	"github.com/punchamoorthee/packetverifier/internal/worker"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(config.Load),
		fx.Provide(newLogger),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log.Named("fx")}
		}),

		fx.Provide(newStore),
		fx.Provide(func(s *store.Store) pending.Tables { return s }),
		fx.Provide(newConfigServer),
		fx.Provide(newNetwork),
		fx.Provide(newOutputs),

		fx.Provide(newDirectory),
		fx.Provide(newLedger),
		fx.Provide(newVerifier),
		fx.Provide(newAdmission),
		fx.Provide(newWorkers),
		fx.Provide(newHTTPServer),

		fx.Invoke(runWorkers),
		fx.Invoke(runHTTP),
	)
	app.Run()
}

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(cfg.Env, cfg.LogLevel)
}

func newStore(lc fx.Lifecycle, cfg *config.Config) (*store.Store, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s, err := store.NewStore(ctx, cfg.DBSource)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error {
		s.Close()
		return nil
	}})
	return s, nil
}

func newConfigServer(s *store.Store) orgs.ConfigServer {
	return store.NewOrgDirectory(s)
}

func newNetwork(cfg *config.Config, server orgs.ConfigServer, log *zap.Logger) (chain.Network, error) {
	if cfg.SolanaRPCURL == "" {
		return newDevNetwork(cfg, server, log)
	}

	mint, err := solana.PublicKeyFromBase58(cfg.DCMint)
	if err != nil {
		return nil, fmt.Errorf("DC_MINT: %w", err)
	}
	authority, err := solana.PrivateKeyFromSolanaKeygenFile(cfg.BurnKeypair)
	if err != nil {
		return nil, fmt.Errorf("BURN_KEYPAIR: %w", err)
	}
	builder := chain.TokenBurnBuilder{Mint: mint, Authority: authority}
	return chain.NewRPCNetwork(chain.RPCConfig{
		Endpoint: cfg.SolanaRPCURL,
		Mint:     mint,
		Timeout:  cfg.LedgerTimeout,
		Retry:    chain.DefaultRetryPolicy(),
	}, builder, log), nil
}

// newDevNetwork credits every payer in the directory so local traffic is
// admitted without a cluster.
func newDevNetwork(cfg *config.Config, server orgs.ConfigServer, log *zap.Logger) (chain.Network, error) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.LedgerTimeout)
	defer cancel()

	all, err := server.ListOrgs(ctx)
	if err != nil {
		return nil, fmt.Errorf("seed development network: %w", err)
	}
	initial := make(map[solana.PublicKey]uint64, len(all))
	for _, org := range all {
		initial[org.Payer] = cfg.DevBalance
	}
	log.Warn("SOLANA_RPC_URL not set, using in-memory ledger",
		zap.Int("payers", len(initial)),
		zap.Uint64("balance", cfg.DevBalance))
	return chain.NewMemoryNetwork(initial), nil
}

func newOutputs(lc fx.Lifecycle, cfg *config.Config, log *zap.Logger) (service.Outputs, error) {
	if cfg.NATSURL == "" {
		return service.Outputs{}, nil
	}
	client, err := messaging.NewClient(messaging.Config{URL: cfg.NATSURL}, log)
	if err != nil {
		return service.Outputs{}, err
	}
	lc.Append(fx.Hook{OnStop: func(context.Context) error { return client.Close() }})
	return service.Outputs{
		Valid:   messaging.NewSink[domain.ValidPacket](client, messaging.SubjectValidPackets),
		Invalid: messaging.NewSink[domain.InvalidPacket](client, messaging.SubjectInvalidPackets),
	}, nil
}

func newDirectory(lc fx.Lifecycle, cfg *config.Config, server orgs.ConfigServer, log *zap.Logger) *orgs.Directory {
	dir := orgs.NewDirectory(server, orgs.DirectoryConfig{
		Timeout: cfg.LedgerTimeout,
		Retry:   chain.DefaultRetryPolicy(),
	}, log)
	lc.Append(fx.Hook{OnStop: dir.Wait})
	return dir
}

func newLedger(cfg *config.Config, tables pending.Tables, network chain.Network, log *zap.Logger) (*balances.Ledger, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return balances.New(ctx, tables, tables, network, balances.Config{LoadTimeout: cfg.LedgerTimeout}, log)
}

func newVerifier(ledger *balances.Ledger, dir *orgs.Directory, log *zap.Logger) *verifier.Verifier {
	return verifier.New(ledger, dir, log)
}

func newAdmission(cfg *config.Config, v *verifier.Verifier, outputs service.Outputs, log *zap.Logger) *service.AdmissionService {
	return service.NewAdmissionService(v, outputs, cfg.BatchConfig, log)
}

func newWorkers(
	cfg *config.Config,
	tables pending.Tables,
	network chain.Network,
	ledger *balances.Ledger,
	dir *orgs.Directory,
	log *zap.Logger,
) *worker.Group {
	g := worker.NewGroup(log)
	g.Add("reconciler", pending.NewReconciler(tables, network, ledger, pending.ReconcilerConfig{
		Period:           cfg.ReconcilePeriod,
		TxExpiry:         cfg.TxExpiry,
		IterationTimeout: cfg.IterationTimeout,
	}, log))
	g.Add("burner", burner.New(tables, network, ledger, burner.Config{
		Period:           cfg.BurnPeriod,
		IterationTimeout: cfg.IterationTimeout,
	}, log))
	g.Add("fund_monitor", orgs.NewMonitor(dir, ledger, orgs.MonitorConfig{
		Period:           cfg.MonitorPeriod,
		IterationTimeout: cfg.IterationTimeout,
	}, log))
	return g
}

func runWorkers(lc fx.Lifecycle, g *worker.Group) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			// The start context ends once startup completes; workers outlive it.
			g.Start(context.Background())
			return nil
		},
		OnStop: g.Stop,
	})
}

func newHTTPServer(cfg *config.Config, admission *service.AdmissionService, ledger *balances.Ledger, dir *orgs.Directory, log *zap.Logger) *http.Server {
	handler := api.NewHandler(admission, ledger, dir, log)
	return &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func runHTTP(lc fx.Lifecycle, srv *http.Server, log *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				log.Info("server starting", zap.String("addr", srv.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: srv.Shutdown,
	})
}
