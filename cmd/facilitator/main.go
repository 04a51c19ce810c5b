// Command facilitator runs the t402 facilitator HTTP service: it verifies and
// settles payments for every chain family it has credentials and endpoints
// for, and advertises the supported (scheme, network) kinds.
//
// Configuration is environment-driven:
//
//	T402_LISTEN_ADDR       listen address (default ":8080")
//	T402_LOG_LEVEL         debug|info|warn|error (default "info")
//	T402_EVM_PRIVATE_KEYS  comma-separated 0x-hex keys; enables EVM schemes
//	T402_SVM_PRIVATE_KEYS  comma-separated base58 or hex keys; enables SVM
//	T402_TON_API_KEY       toncenter API key (TON enabled regardless)
//	T402_TRON_API_KEY      TronGrid API key (TRON enabled regardless)
//	T402_RPC_<NAME>        RPC endpoint override per network name, upper-cased
//	                       with '-' as '_' (e.g. T402_RPC_BASE_SEPOLIA)
//	T402_UPTO_ROUTER_<NAME> settlement router address per network; enables the
//	                       upto scheme on that network
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/sigweihq/t402pay/pkg/chains/evm"
	"github.com/sigweihq/t402pay/pkg/chains/svm"
	"github.com/sigweihq/t402pay/pkg/chains/ton"
	"github.com/sigweihq/t402pay/pkg/chains/tron"
	"github.com/sigweihq/t402pay/pkg/facilitator"
	"github.com/sigweihq/t402pay/pkg/metrics"
	"github.com/sigweihq/t402pay/pkg/networks"
	"github.com/sigweihq/t402pay/pkg/schemes"
)

func main() {
	logger := newLogger(envOr("T402_LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry := schemes.NewRegistry()
	if err := registerSchemes(ctx, registry, logger); err != nil {
		logger.Error("scheme setup failed", "error", err)
		os.Exit(1)
	}
	if len(registry.SupportedKinds()) == 0 {
		logger.Error("no schemes configured; set T402_EVM_PRIVATE_KEYS or T402_SVM_PRIVATE_KEYS, or rely on TON/TRON defaults")
		os.Exit(1)
	}

	promRegistry := prometheus.NewRegistry()
	recorder := metrics.NewPrometheusRecorder(promRegistry)

	f := facilitator.New(registry, logger, recorder)
	server := facilitator.NewServer(f, logger, promRegistry)

	addr := envOr("T402_LISTEN_ADDR", ":8080")
	logger.Info("starting facilitator", "addr", addr, "kinds", len(registry.SupportedKinds()))
	if err := server.Run(ctx, addr); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func registerSchemes(ctx context.Context, registry *schemes.Registry, logger *slog.Logger) error {
	if keys := envList("T402_EVM_PRIVATE_KEYS"); len(keys) > 0 {
		signers, err := evm.NewSignerPool(keys)
		if err != nil {
			return err
		}
		backends := evmBackends(ctx, logger)
		if err := registry.Register(evm.NewExactScheme(backends, signers, logger), networks.FamilyEVM+":*"); err != nil {
			return err
		}
		if routers := uptoRouters(); len(routers) > 0 {
			patterns := make([]string, 0, len(routers))
			for id := range routers {
				patterns = append(patterns, id)
			}
			if err := registry.Register(evm.NewUptoScheme(backends, signers, routers, logger), patterns...); err != nil {
				return err
			}
		}
	}

	if keys := envList("T402_SVM_PRIVATE_KEYS"); len(keys) > 0 {
		pool, err := svm.NewKeyPool(keys)
		if err != nil {
			return err
		}
		backends := make(map[string]svm.Backend)
		for _, id := range familyNetworks(networks.FamilySVM) {
			backends[id] = svm.NewRPCBackend(endpointFor(id))
		}
		if err := registry.Register(svm.NewExactScheme(backends, pool, logger), networks.FamilySVM+":*"); err != nil {
			return err
		}
	}

	tonBackends := make(map[string]ton.Backend)
	for _, id := range familyNetworks(networks.FamilyTON) {
		tonBackends[id] = ton.NewClient(endpointFor(id), os.Getenv("T402_TON_API_KEY"))
	}
	if err := registry.Register(ton.NewExactScheme(tonBackends, logger), networks.FamilyTON+":*"); err != nil {
		return err
	}

	tronBackends := make(map[string]tron.Backend)
	for _, id := range familyNetworks(networks.FamilyTRON) {
		tronBackends[id] = tron.NewClient(endpointFor(id), os.Getenv("T402_TRON_API_KEY"))
	}
	return registry.Register(tron.NewExactScheme(tronBackends, logger), networks.FamilyTRON+":*")
}

func evmBackends(ctx context.Context, logger *slog.Logger) map[string]evm.Backend {
	backends := make(map[string]evm.Backend)
	for _, id := range familyNetworks(networks.FamilyEVM) {
		backend, err := evm.NewRPCBackend(ctx, endpointFor(id))
		if err != nil {
			// a single unreachable chain should not take the service down
			logger.Warn("skipping network, rpc dial failed", "network", id, "error", err)
			continue
		}
		backends[id] = backend
	}
	return backends
}

func uptoRouters() map[string]common.Address {
	routers := make(map[string]common.Address)
	for _, id := range familyNetworks(networks.FamilyEVM) {
		if v := os.Getenv("T402_UPTO_ROUTER_" + envSuffix(id)); v != "" && common.IsHexAddress(v) {
			routers[id] = common.HexToAddress(v)
		}
	}
	return routers
}

func familyNetworks(family string) []string {
	var ids []string
	for _, id := range networks.All() {
		if networks.Family(id) == family {
			ids = append(ids, id)
		}
	}
	return ids
}

func endpointFor(id string) string {
	if v := os.Getenv("T402_RPC_" + envSuffix(id)); v != "" {
		return v
	}
	n, _ := networks.Lookup(id)
	return n.Endpoint
}

// envSuffix turns a network id into its env var suffix: "eip155:8453" has
// name "base", so the suffix is "BASE"; "base-sepolia" becomes "BASE_SEPOLIA".
func envSuffix(id string) string {
	n, _ := networks.Lookup(id)
	name := strings.ReplaceAll(n.Name, "-", "_")
	return strings.ToUpper(name)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envList(key string) []string {
	raw := os.Getenv(key)
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
