package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"phusd/cmd/internal/passphrase"
	"phusd/config"
	"phusd/core/events"
	"phusd/core/types"
	"phusd/crypto"
	nativecommon "phusd/native/common"
	"phusd/native/phlimbo"
	"phusd/native/yield"
	"phusd/observability"
	"phusd/observability/logging"
	"phusd/observability/otel"
	"phusd/rpc"
	"phusd/state"
	"phusd/storage"
)

const operatorPassEnv = "PHUSD_OPERATOR_PASS"

func main() {
	configFile := flag.String("config", "./config.toml", "Path to the configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("PHUSD_ENV"))
	logger := logging.Setup("phusdd", env)

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Telemetry.Metrics || cfg.Telemetry.Traces {
		shutdown, err := otel.Init(ctx, otel.Config{
			ServiceName: "phusdd",
			Environment: cfg.Telemetry.Environment,
			Endpoint:    cfg.Telemetry.Endpoint,
			Insecure:    cfg.Telemetry.Insecure,
			Headers:     otel.ParseHeaders(os.Getenv("PHUSD_OTEL_HEADERS")),
			Metrics:     cfg.Telemetry.Metrics,
			Traces:      cfg.Telemetry.Traces,
		})
		if err != nil {
			logger.Error("init telemetry", slog.Any("error", err))
			os.Exit(1)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("telemetry shutdown", slog.Any("error", err))
			}
		}()
	}

	pass, err := passphrase.NewSource(operatorPassEnv).Get()
	if err != nil {
		logger.Error("resolve keystore passphrase", slog.Any("error", err))
		os.Exit(1)
	}
	operatorKey, err := crypto.LoadFromKeystore(cfg.OperatorKeystorePath, pass)
	if err != nil {
		logger.Error("load operator keystore", slog.Any("error", err))
		os.Exit(1)
	}
	operator := operatorKey.PubKey().Address().Array()

	db, err := storage.NewLevelDB(cfg.DataDir)
	if err != nil {
		logger.Error("open database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	ledger := state.NewManager(db)
	if err := applyGenesis(cfg, ledger); err != nil {
		logger.Error("apply genesis allocation", slog.Any("error", err))
		os.Exit(1)
	}
	accumulator, engine, err := buildEngines(cfg, ledger, operator, logger)
	if err != nil {
		logger.Error("bootstrap engines", slog.Any("error", err))
		os.Exit(1)
	}

	server := rpc.NewServer(rpc.Config{
		Accumulator: accumulator,
		Engine:      engine,
		Ledger:      ledger,
		Logger:      logger,
		AuthToken:   cfg.RPCAuthToken,
		RateLimit: rpc.RateLimitConfig{
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			Burst:             cfg.RateLimit.Burst,
		},
	})

	httpServer := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           otelhttp.NewHandler(server.Router(), "phusdd"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("rpc listening",
			slog.String("address", cfg.RPCAddress),
			slog.String("network", cfg.NetworkName),
			slog.String("operator", operatorKey.PubKey().Address().String()),
			logging.MaskField("authToken", cfg.RPCAuthToken))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("rpc server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("rpc shutdown", slog.Any("error", err))
	}
	logger.Info("phusdd stopped")
}

// buildEngines restores both ledger engines from persisted state and applies
// the boot-time configuration: pause switches, token configs, savings-backed
// strategies and emission rates.
func buildEngines(cfg *config.Config, ledger *state.Manager, operator [20]byte, logger *slog.Logger) (*yield.Accumulator, *phlimbo.Engine, error) {
	pauses := nativecommon.NewPauses()
	emitter := observability.NewMeteredEmitter(&logEmitter{logger: logger})

	accumulator := yield.NewAccumulator(operator, moduleAddress("phusd/module/yield"))
	accumulator.SetState(ledger)
	accumulator.SetEmitter(emitter)
	accumulator.SetPauses(pauses)
	if err := accumulator.SetMinter(operator, ledger); err != nil {
		return nil, nil, fmt.Errorf("wire minter: %w", err)
	}
	if err := accumulator.SetBook(operator, ledger); err != nil {
		return nil, nil, fmt.Errorf("wire token book: %w", err)
	}

	engine := phlimbo.NewEngine(operator, moduleAddress("phusd/module/phlimbo"))
	engine.SetState(ledger)
	engine.SetEmitter(emitter)
	engine.SetPauses(pauses)
	if err := accumulator.SetPhlimbo(operator, engine.ModuleAddress()); err != nil {
		return nil, nil, fmt.Errorf("link phlimbo: %w", err)
	}

	for _, token := range cfg.Tokens {
		rate, ok := new(big.Int).SetString(strings.TrimSpace(token.ExchangeRate), 10)
		if !ok {
			return nil, nil, fmt.Errorf("token %s: malformed exchange rate", token.Symbol)
		}
		if err := accumulator.SetTokenConfig(operator, token.Symbol, token.Decimals, rate); err != nil {
			return nil, nil, fmt.Errorf("configure token %s: %w", token.Symbol, err)
		}
	}

	for _, entry := range cfg.Strategies {
		if err := bindStrategy(accumulator, ledger, operator, entry); err != nil {
			return nil, nil, err
		}
	}

	phusdRate := parseRateOrZero(cfg.Emissions.PhusdPerSecond)
	stableRate := parseRateOrZero(cfg.Emissions.StablePerSecond)
	if phusdRate.Sign() > 0 || stableRate.Sign() > 0 {
		if err := engine.SetEmissionRates(operator, phusdRate, stableRate); err != nil {
			return nil, nil, fmt.Errorf("set emission rates: %w", err)
		}
	}

	// Configured pause switches land last, after tokens, strategies and
	// emissions are wired, so a node that boots paused still restores its
	// engines fully.
	pauses.SetPaused(yield.ModuleName, cfg.Pauses.Yield)
	pauses.SetPaused(phlimbo.ModuleName, cfg.Pauses.Phlimbo)
	return accumulator, engine, nil
}

// applyGenesis converts the configured account allocations and applies them
// once on a fresh data dir.
func applyGenesis(cfg *config.Config, ledger *state.Manager) error {
	if len(cfg.Accounts) == 0 {
		return nil
	}
	accounts := make([]state.GenesisAccount, 0, len(cfg.Accounts))
	for _, entry := range cfg.Accounts {
		decoded, err := crypto.DecodeAddress(strings.TrimSpace(entry.Address))
		if err != nil {
			return fmt.Errorf("account %s: %w", entry.Address, err)
		}
		account := state.GenesisAccount{
			Address:      decoded.Array(),
			BalancePHAME: parseRateOrZero(entry.BalancePHAME),
			BalancePHUSD: parseRateOrZero(entry.BalancePHUSD),
			BalanceUSDS:  parseRateOrZero(entry.BalanceUSDS),
		}
		if len(entry.TokenBalances) > 0 {
			account.TokenBalances = make(map[string]*big.Int, len(entry.TokenBalances))
			for _, balance := range entry.TokenBalances {
				account.TokenBalances[balance.Token] = parseRateOrZero(balance.Amount)
			}
		}
		accounts = append(accounts, account)
	}
	return ledger.SeedGenesis(accounts)
}

// bindStrategy builds the savings-backed adapter for one configured strategy
// and registers it, or re-attaches it when the registration survived in state.
func bindStrategy(accumulator *yield.Accumulator, ledger *state.Manager, operator [20]byte, entry config.Strategy) error {
	decoded, err := crypto.DecodeAddress(strings.TrimSpace(entry.Address))
	if err != nil {
		return fmt.Errorf("strategy %s: %w", entry.Address, err)
	}
	addr := decoded.Array()
	rate, ok := new(big.Int).SetString(strings.TrimSpace(entry.SavingsRatePerSecond), 10)
	if !ok {
		return fmt.Errorf("strategy %s: malformed savings rate", entry.Address)
	}

	source := yield.NewSavingsSource(moduleAddress("phusd/savings/"+entry.Address), entry.Token, rate, ledger)
	if err := source.SetStore(ledger); err != nil {
		return fmt.Errorf("strategy %s: restore savings position: %w", entry.Address, err)
	}
	strategy := yield.NewSourceStrategy(addr, operator, entry.Token, source, ledger)
	if err := strategy.SetPrincipalStore(ledger); err != nil {
		return fmt.Errorf("strategy %s: restore principals: %w", entry.Address, err)
	}
	if err := strategy.SetClient(operator, accumulator.ModuleAddress(), true); err != nil {
		return fmt.Errorf("strategy %s: authorize client: %w", entry.Address, err)
	}

	if _, registered, err := ledger.StrategyToken(addr); err != nil {
		return fmt.Errorf("strategy %s: %w", entry.Address, err)
	} else if registered {
		return accumulator.AttachStrategy(strategy)
	}
	return accumulator.AddYieldStrategy(operator, strategy)
}

func parseRateOrZero(raw string) *big.Int {
	value, ok := new(big.Int).SetString(strings.TrimSpace(raw), 10)
	if !ok {
		return big.NewInt(0)
	}
	return value
}

// moduleAddress derives a stable 20-byte address from a label.
func moduleAddress(label string) [20]byte {
	var addr [20]byte
	copy(addr[:], ethcrypto.Keccak256([]byte(label))[12:])
	return addr
}

// logEmitter mirrors ledger events into the structured log.
type logEmitter struct {
	logger *slog.Logger
}

func (l *logEmitter) Emit(evt events.Event) {
	if l == nil || l.logger == nil || evt == nil {
		return
	}
	attrs := []any{slog.String("event", evt.EventType())}
	if carrier, ok := evt.(interface{ Event() *types.Event }); ok {
		if typed := carrier.Event(); typed != nil {
			for key, value := range typed.Attributes {
				attrs = append(attrs, slog.String(key, value))
			}
		}
	}
	l.logger.Info("ledger event", attrs...)
}
