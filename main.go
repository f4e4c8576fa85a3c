package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
)

// Command names.
const (
	cmdMint = "mint"
	cmdInit = "init"
	cmdHelp = "help"
)

// exitInterrupted is the conventional exit status after SIGINT.
const exitInterrupted = 130

func main() {
	_ = godotenv.Load()
	log := newLogger(hasVerboseFlag(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, log, os.Args[1:])
	stop()
	if err != nil {
		if isCanceled(err) {
			log.warn("interrupted by user")
			os.Exit(exitInterrupted)
		}
		log.err(err.Error())
		os.Exit(1)
	}
}

func run(ctx context.Context, log *logger, args []string) error {
	if len(args) == 0 || strings.HasPrefix(args[0], "-") && !isHelpArg(args[0]) {
		return runMint(ctx, log, args)
	}

	switch {
	case args[0] == cmdHelp || isHelpArg(args[0]):
		printUsage(os.Stdout)
		return nil
	case args[0] == cmdMint:
		return runMint(ctx, log, args[1:])
	case args[0] == cmdInit:
		return runInit(log, args[1:])
	default:
		printUsage(os.Stderr)
		return fmt.Errorf("unknown command: %s", args[0])
	}
}

func isHelpArg(a string) bool { return a == "-h" || a == "--help" }

// helpOrErr turns -h/--help inside a subcommand into printed usage.
func helpOrErr(err error) error {
	if errors.Is(err, flag.ErrHelp) {
		printUsage(os.Stdout)
		return nil
	}
	return err
}

// hasVerboseFlag scans args the way flag would for -v/-verbose, including the
// -v=false forms; the last occurrence wins.
func hasVerboseFlag(args []string) bool {
	verbose := false
	for _, a := range args {
		if a == "--" {
			break
		}
		if !strings.HasPrefix(a, "-") {
			continue
		}
		name, val, hasVal := strings.Cut(strings.TrimPrefix(strings.TrimPrefix(a, "-"), "-"), "=")
		if name != "v" && name != "verbose" {
			continue
		}
		if !hasVal {
			verbose = true
			continue
		}
		if on, err := strconv.ParseBool(val); err == nil {
			verbose = on
		}
	}
	return verbose
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "agent-mint: PoW challenge/verify/mint client")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Usage:")
	_, _ = fmt.Fprintln(w, "  agent-mint [mint] [--config PATH] [options]")
	_, _ = fmt.Fprintln(w, "  agent-mint init --config PATH [options]")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Options:")
	_, _ = fmt.Fprintln(w, "  --config        Path to config.json (optional for mint)")
	_, _ = fmt.Fprintln(w, "  --private-key   Wallet private key, 64 hex chars (AGC_PRIVATE_KEY)")
	_, _ = fmt.Fprintln(w, "  --api-base-url  API base URL (BLOKS_API_BASE_URL)")
	_, _ = fmt.Fprintln(w, "  --project-id    Project / collection ID (BLOKS_PROJECT_ID)")
	_, _ = fmt.Fprintln(w, "  --chain-id      EVM chain ID, default 8453 (BLOKS_CHAIN_ID)")
	_, _ = fmt.Fprintln(w, "  --scheme        Name used in the whitelist message (BLOKS_SCHEME)")
	_, _ = fmt.Fprintln(w, "  --wl-message    Custom whitelist message to sign (BLOKS_WL_MESSAGE)")
	_, _ = fmt.Fprintln(w, "  --max-retries   HTTP attempts per call, default 3 (BLOKS_MAX_RETRIES)")
	_, _ = fmt.Fprintln(w, "  --retry-delay   Base back-off in seconds, default 2.0 (BLOKS_RETRY_DELAY)")
	_, _ = fmt.Fprintln(w, "  --workers       Parallel PoW workers, default 1 (BLOKS_POW_WORKERS)")
	_, _ = fmt.Fprintln(w, "  --count         Number of independent mint runs (default: 1)")
	_, _ = fmt.Fprintln(w, "  --dry-run       Solve and verify but do not mint")
	_, _ = fmt.Fprintln(w, "  --one-shot      Run once and exit (default behaviour)")
	_, _ = fmt.Fprintln(w, "  -v, --verbose   Debug logging")
	_, _ = fmt.Fprintln(w)
	_, _ = fmt.Fprintln(w, "Environment:")
	_, _ = fmt.Fprintln(w, "  .env is loaded from the working directory if present")
	_, _ = fmt.Fprintln(w, "  NO_COLOR  Disable colored output")
}

// cliFlags holds config overrides. Only flags present on the command line
// are applied.
type cliFlags struct {
	configPath       string
	privateKey       string
	baseURL          string
	projectID        string
	chainID          int64
	scheme           string
	whitelistMessage string
	maxRetries       int
	retryDelay       float64
	workers          int
	verbose          bool
}

func (f *cliFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.configPath, "config", "", "config path")
	fs.StringVar(&f.privateKey, "private-key", "", "wallet private key")
	fs.StringVar(&f.baseURL, "api-base-url", "", "API base URL")
	fs.StringVar(&f.projectID, "project-id", "", "project ID")
	fs.Int64Var(&f.chainID, "chain-id", 0, "EVM chain ID")
	fs.StringVar(&f.scheme, "scheme", "", "whitelist message scheme")
	fs.StringVar(&f.whitelistMessage, "wl-message", "", "custom whitelist message")
	fs.IntVar(&f.maxRetries, "max-retries", 0, "HTTP attempts per call")
	fs.Float64Var(&f.retryDelay, "retry-delay", 0, "base back-off seconds")
	fs.IntVar(&f.workers, "workers", 0, "parallel PoW workers")
	fs.BoolVar(&f.verbose, "v", false, "debug logging")
	fs.BoolVar(&f.verbose, "verbose", false, "debug logging")
}

func (f *cliFlags) override(fs *flag.FlagSet) func(*appConfig) {
	return func(cfg *appConfig) {
		fs.Visit(func(fl *flag.Flag) {
			switch fl.Name {
			case "private-key":
				cfg.PrivateKey = f.privateKey
			case "api-base-url":
				cfg.BaseURL = f.baseURL
			case "project-id":
				cfg.ProjectID = f.projectID
			case "chain-id":
				cfg.ChainID = f.chainID
			case "scheme":
				cfg.Scheme = f.scheme
			case "wl-message":
				cfg.WhitelistMessage = f.whitelistMessage
			case "max-retries":
				cfg.MaxRetries = f.maxRetries
			case "retry-delay":
				cfg.RetryDelay = f.retryDelay
			case "workers":
				cfg.Workers = f.workers
			}
		})
	}
}

func runMint(ctx context.Context, log *logger, args []string) error {
	fs := flag.NewFlagSet(cmdMint, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var (
		flags   cliFlags
		count   int
		dryRun  bool
		oneShot bool
	)
	flags.register(fs)
	fs.IntVar(&count, "count", 1, "number of mint runs")
	fs.BoolVar(&dryRun, "dry-run", false, "solve and verify but do not mint")
	fs.BoolVar(&oneShot, "one-shot", false, "run once and exit")
	if err := fs.Parse(args); err != nil {
		return helpOrErr(err)
	}
	if count <= 0 {
		return errors.New("--count must be > 0")
	}
	if oneShot {
		count = 1
	}

	cfg, err := loadConfig(flags.configPath, flags.override(fs))
	if err != nil {
		return err
	}

	signer, err := newWalletSigner(cfg.PrivateKey)
	if err != nil {
		return err
	}
	wallet := signer.Address()

	log.infof("wallet address: %s", wallet)
	log.infof("project: %s chain: %d", cfg.ProjectID, cfg.ChainID)
	log.infof("api: %s", cfg.BaseURL)
	if dryRun {
		log.info("mode: dry run (no mint request)")
	}

	client := newMintClient(cfg, wallet, newRetryingTransport(wallet, cfg, log), log)
	flow := newMintFlow(client, newPowSolver(cfg, log), signer, cfg.Scheme, log)

	for i := 1; i <= count; i++ {
		if count > 1 {
			log.infof("mint run %d/%d", i, count)
		}
		out, err := flow.run(ctx, mintOptions{DryRun: dryRun, WhitelistMessage: cfg.WhitelistMessage})
		if err != nil {
			return err
		}
		reportOutcome(log, out)
		if out.State == stateClosedAbort {
			return nil
		}
	}
	return nil
}

func reportOutcome(log *logger, out *mintOutcome) {
	switch out.State {
	case stateClosedAbort:
		log.warn("mint not performed: phase is closed")
	case stateDryRunStop:
		log.ok("[dry run] flow completed, mint step skipped")
	case stateMinted:
		if out.Result.TxHash != "" {
			log.okf("transaction: %s", out.Result.TxHash)
		}
		if out.Result.TokenID != nil {
			log.okf("token id: %d", *out.Result.TokenID)
		}
		log.ok("mint complete")
	}
}

// runInit writes the layered configuration to --config without validating it.
func runInit(log *logger, args []string) error {
	fs := flag.NewFlagSet(cmdInit, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var flags cliFlags
	flags.register(fs)
	if err := fs.Parse(args); err != nil {
		return helpOrErr(err)
	}
	if flags.configPath == "" {
		return errors.New("--config is required")
	}

	cfg, err := layerConfig(flags.configPath, flags.override(fs))
	if err != nil {
		return err
	}
	if err := saveConfig(flags.configPath, cfg); err != nil {
		return err
	}
	log.okf("config written to %s", flags.configPath)
	if cfg.PrivateKey == "" {
		log.warn("private_key is empty: set AGC_PRIVATE_KEY or edit the file before minting")
	}
	return nil
}
