package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Checker-Finance/relay-adapter/internal/bridge"
	"github.com/Checker-Finance/relay-adapter/internal/chain"
	"github.com/Checker-Finance/relay-adapter/internal/rate"
	"github.com/Checker-Finance/relay-adapter/internal/relay"
	"github.com/Checker-Finance/relay-adapter/internal/secrets"
	"github.com/Checker-Finance/relay-adapter/pkg/config"
	"github.com/Checker-Finance/relay-adapter/pkg/logger"
	"github.com/Checker-Finance/relay-adapter/pkg/model"
)

const cliClientID = "relayctl"

// bridgeService is the part of bridge.Service the commands drive.
type bridgeService interface {
	Quote(ctx context.Context, req model.BridgeRequest) (*model.QuoteSummary, error)
	Submit(ctx context.Context, req model.BridgeRequest) (*model.BridgeRecord, error)
	Wait(ctx context.Context, clientID, requestID string, flow model.Flow, onProgress relay.ProgressFunc) (*relay.StatusResponse, error)
	FetchStatus(ctx context.Context, clientID, requestID string) (*relay.StatusResponse, error)
}

// chainLister lists the relay's supported chains.
type chainLister interface {
	GetChains(ctx context.Context, cfg *relay.ClientConfig) (*relay.ChainsResponse, error)
}

// tracker is the background side of relay.Poller.
type tracker interface {
	CancelTracking(requestID string)
}

// app is the wiring shared by every subcommand.
type app struct {
	settings *secrets.ClientSettings
	chains   chainLister
	service  bridgeService
	tracker  tracker
	out      io.Writer
	errOut   io.Writer
	closers  []func()
}

// appFactory builds the wiring for one command run.
type appFactory func(ctx context.Context) (*app, error)

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger.Init("relayctl", "cli", cfg.LogLevel)
	log := logger.L()

	bridgeCfg, err := bridge.ConfigFrom(cfg)
	if err != nil {
		return nil, err
	}

	resolver := &secrets.StaticResolver{Settings: secrets.ClientSettings{
		Relay: relay.ClientConfig{
			BaseURL:  cfg.RelayBaseURL,
			APIKey:   cfg.RelayAPIKey,
			Referrer: cfg.RelayReferrer,
		},
		SignerKey:     os.Getenv("PRIVATE_KEY"),
		SafeOwnerKeys: config.GetEnvList("SAFE_OWNER_KEYS"),
	}}
	settings, err := resolver.Resolve(ctx, cliClientID)
	if err != nil {
		return nil, err
	}

	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: float64(cfg.RelayRateLimit),
		Burst:             cfg.RelayRateLimit,
	})
	client := relay.NewClient(log, rateMgr, cfg.RelayTimeout, cfg.RelayRetryMax)

	chains, err := chain.Dial(ctx, log, cfg.ChainRPCURLs, rateMgr)
	if err != nil {
		return nil, err
	}

	var reader chain.Reader
	if len(chains.ChainIDs()) > 0 {
		reader = chains
	}
	svc := bridge.NewService(log, resolver, client, reader, nil, bridgeCfg)
	poller := relay.NewPoller(log, svc, nil, relay.PollerConfig{
		MaxAttempts:             cfg.PollMaxAttempts,
		Interval:                cfg.PollInterval,
		SmartAccountMaxAttempts: cfg.PollMaxAttemptsSmartAccount,
		SmartAccountInterval:    cfg.PollIntervalSmartAccount,
	})
	svc.SetPoller(poller)

	return &app{
		settings: settings,
		chains:   client,
		service:  svc,
		tracker:  poller,
		closers:  []func(){poller.Stop, chains.Close, logger.Sync},
	}, nil
}

func (a *app) Close() {
	for _, c := range a.closers {
		c()
	}
}

// withApp builds the wiring with build, points its output at cmd and runs run.
func withApp(build appFactory, run func(ctx context.Context, a *app, cmd *cobra.Command, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		a, err := build(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()
		a.out = cmd.OutOrStdout()
		a.errOut = cmd.ErrOrStderr()
		return run(cmd.Context(), a, cmd, args)
	}
}

func newRootCmd(build appFactory) *cobra.Command {
	root := &cobra.Command{
		Use:           "relayctl",
		Short:         "Quote, submit and track cross-chain bridges through the relay",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(chainsCmd(build), quoteCmd(build), bridgeCmd(build), statusCmd(build))
	return root
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(newApp).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
