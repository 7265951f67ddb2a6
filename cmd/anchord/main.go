// Command anchord runs the light-client trust anchor daemon: it maintains
// a cryptographically verified view of a CometBFT/Tendermint-family chain
// and exposes the latest trusted block over HTTP (spec §1). CLI surface
// grounded on cmd/tendermint/commands/light.go's spf13/cobra wiring;
// shutdown handling grounded on the same file's os/signal usage.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/lightanchor/anchord/clock"
	"github.com/lightanchor/anchord/coordinator"
	"github.com/lightanchor/anchord/detector"
	"github.com/lightanchor/anchord/internal/config"
	"github.com/lightanchor/anchord/internal/logging"
	"github.com/lightanchor/anchord/light"
	"github.com/lightanchor/anchord/light/provider"
	"github.com/lightanchor/anchord/model"
	"github.com/lightanchor/anchord/trust"

	"github.com/lightanchor/anchord/api"
)

var flags struct {
	chainID       string
	primary       string
	witnesses     string
	trustedHeight int64
	trustedHash   string

	listenAddr         string
	trustThreshold     string
	trustingPeriod     time.Duration
	maxClockDrift      time.Duration
	maxBlockLag        time.Duration
	freshnessThreshold time.Duration
	keepWarmInterval   time.Duration
	haltDuration       time.Duration
	apiTimeout         time.Duration
	sequential         bool
	enableCORS         bool
	verbosity          int
}

func main() {
	root := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "anchord",
		Short: "Trust anchor daemon for a CometBFT/Tendermint-family chain",
		Long: `anchord maintains a cryptographically verified view of a
CometBFT/Tendermint-family blockchain (skip verification against a primary
RPC endpoint, cross-checked against witnesses) and exposes the latest
trusted block over HTTP so other services can validate ICS-23 proofs
served by untrusted RPC endpoints without re-deriving consensus.`,
		RunE:         runDaemon,
		SilenceUsage: true,
	}

	f := cmd.Flags()
	f.StringVar(&flags.chainID, "chain-id", "", "chain ID the daemon tracks (required)")
	f.StringVar(&flags.primary, "primary", "", "primary RPC address (required)")
	f.StringVar(&flags.witnesses, "witnesses", "", "comma-separated witness RPC addresses")
	f.Int64Var(&flags.trustedHeight, "trusted-height", 0, "checkpoint height (required)")
	f.StringVar(&flags.trustedHash, "trusted-hash", "", "checkpoint header hash, hex (required)")

	f.StringVar(&flags.listenAddr, "listen-addr", "127.0.0.1:8080", "HTTP status API listen address")
	f.StringVar(&flags.trustThreshold, "trust-threshold", "2/3", "minimum fraction of prior voting power required to skip-trust (1/3 to 1)")
	f.DurationVar(&flags.trustingPeriod, "trusting-period", 1209600*time.Second, "duration after which a trusted header can no longer be used to trust a new one")
	f.DurationVar(&flags.maxClockDrift, "max-clock-drift", 5*time.Second, "maximum allowed clock drift of a candidate header")
	f.DurationVar(&flags.maxBlockLag, "max-block-lag", 5*time.Second, "maximum time a witness may lag the primary's head before being reported unreliable")
	f.DurationVar(&flags.freshnessThreshold, "freshness-threshold", 10*time.Second, "staleness after which an API request solicits an on-demand sync")
	f.DurationVar(&flags.keepWarmInterval, "keep-warm-interval", 300*time.Second, "periodic sync interval")
	f.DurationVar(&flags.haltDuration, "halt-duration-on-fork", 3600*time.Second, "duration to halt after a detected fork")
	f.DurationVar(&flags.apiTimeout, "api-timeout", 5*time.Second, "maximum time an API request waits on a solicited sync")
	f.BoolVar(&flags.sequential, "sequential", false, "verify sequentially instead of using skip verification")
	f.BoolVar(&flags.enableCORS, "enable-cors", true, "serve the status API with permissive CORS headers")
	f.IntVar(&flags.verbosity, "verbose", 1, "log verbosity: 0 (error), 1 (info), 2 (debug)")

	return cmd
}

func runDaemon(cmd *cobra.Command, _ []string) error {
	logger := logging.New(os.Stderr, logging.AllowLevel(flags.verbosity))

	params, checkpoint, err := buildConfig()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	primary, witnesses, err := buildProviders()
	if err != nil {
		return fmt.Errorf("configuration error: %w", err)
	}

	engine := light.NewEngine(light.Params{
		ChainID:        checkpoint.ChainID,
		TrustingPeriod: params.TrustingPeriod,
		MaxClockDrift:  params.MaxClockDrift,
		TrustLevel:     params.TrustThreshold,
		Sequential:     flags.sequential,
	}, logger.With("component", "light_engine"))

	det := detector.New(engine, detector.Params{
		MaxBlockLag:   params.MaxBlockLag,
		MaxClockDrift: params.MaxClockDrift,
	}, logger.With("component", "detector"))

	store := trust.NewStore()
	clk := clock.New()
	metrics := coordinator.PrometheusMetrics("anchord")

	coord := coordinator.New(engine, det, primary, witnesses, store, clk, params, logger.With("component", "coordinator"), metrics)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("bootstrapping", "chain_id", checkpoint.ChainID, "trusted_height", checkpoint.TrustedHeight)
	if err := coord.Bootstrap(ctx, checkpoint); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}

	if err := coord.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync coordinator: %w", err)
	}

	server := api.New(store, coord, params, logger.With("component", "api"), flags.enableCORS)
	httpServer := &http.Server{Addr: flags.listenAddr, Handler: server}

	serveErrC := make(chan error, 1)
	go func() {
		logger.Info("serving status API", "addr", flags.listenAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErrC <- err
			return
		}
		serveErrC <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErrC:
		if err != nil {
			logger.Error("HTTP server failed", "err", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", "err", err)
	}
	if err := coord.Stop(); err != nil {
		logger.Error("error stopping sync coordinator", "err", err)
	}
	return nil
}

func buildConfig() (config.Parameters, config.Checkpoint, error) {
	if flags.chainID == "" {
		return config.Parameters{}, config.Checkpoint{}, errors.New("--chain-id is required")
	}
	if flags.primary == "" {
		return config.Parameters{}, config.Checkpoint{}, errors.New("--primary is required")
	}
	if flags.trustedHeight <= 0 {
		return config.Parameters{}, config.Checkpoint{}, errors.New("--trusted-height is required")
	}
	if flags.trustedHash == "" {
		return config.Parameters{}, config.Checkpoint{}, errors.New("--trusted-hash is required")
	}

	hash, err := hex.DecodeString(strings.TrimPrefix(flags.trustedHash, "0x"))
	if err != nil {
		return config.Parameters{}, config.Checkpoint{}, fmt.Errorf("--trusted-hash is not valid hex: %w", err)
	}

	threshold, err := parseFraction(flags.trustThreshold)
	if err != nil {
		return config.Parameters{}, config.Checkpoint{}, fmt.Errorf("--trust-threshold: %w", err)
	}

	params := config.Parameters{
		TrustThreshold:     threshold,
		TrustingPeriod:     flags.trustingPeriod,
		MaxClockDrift:      flags.maxClockDrift,
		MaxBlockLag:        flags.maxBlockLag,
		FreshnessThreshold: flags.freshnessThreshold,
		KeepWarmInterval:   flags.keepWarmInterval,
		HaltDurationOnFork: flags.haltDuration,
		APITimeout:         flags.apiTimeout,
	}
	if err := params.ValidateBasic(); err != nil {
		return config.Parameters{}, config.Checkpoint{}, err
	}

	checkpoint := config.Checkpoint{
		ChainID:       flags.chainID,
		TrustedHeight: flags.trustedHeight,
		TrustedHash:   hash,
	}
	if err := checkpoint.ValidateBasic(); err != nil {
		return config.Parameters{}, config.Checkpoint{}, err
	}

	return params, checkpoint, nil
}

func buildProviders() (primary provider.Provider, witnesses []provider.Provider, err error) {
	addrs := []string{flags.primary}
	if flags.witnesses != "" {
		addrs = append(addrs, strings.Split(flags.witnesses, ",")...)
	}
	providers, err := light.ProvidersFromAddresses(addrs, flags.chainID, 5*time.Second)
	if err != nil {
		return nil, nil, err
	}
	return providers[0], providers[1:], nil
}

func parseFraction(s string) (model.Fraction, error) {
	parts := strings.SplitN(s, "/", 2)
	if len(parts) != 2 {
		return model.Fraction{}, fmt.Errorf("expected format numerator/denominator, got %q", s)
	}
	num, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return model.Fraction{}, err
	}
	den, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return model.Fraction{}, err
	}
	return model.Fraction{Numerator: num, Denominator: den}, nil
}
