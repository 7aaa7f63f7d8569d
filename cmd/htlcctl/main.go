// Command htlcctl operates hash-time-locked contracts stored in PostgreSQL.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"htlcflow/auth"
	"htlcflow/config"
	"htlcflow/contract"
	"htlcflow/db"
	"htlcflow/ledger"
	"htlcflow/notify"
)

type command struct {
	usage string
	// needsDB commands get a connected app; the rest only see configuration.
	needsDB bool
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"migrate":  {"apply the embedded schema", true, runMigrate},
	"register": {"register a party: -handle -password", true, runRegister},
	"login":    {"issue a bearer token: -handle -password", true, runLogin},
	"fund":     {"credit an account: -account -amount", true, runFund},
	"balance":  {"show an account balance: -account", true, runBalance},
	"secret":   {"generate a secret and its hashlock: [-scheme]", false, runSecret},
	"create":   {"lock funds: -token -receiver -amount -hashlock (-timelock | -expires-in)", true, runCreate},
	"withdraw": {"claim with the secret: -token -id -secret", true, runWithdraw},
	"refund":   {"reclaim after expiry: -token -id", true, runRefund},
	"show":     {"show a contract: -id", true, runShow},
	"list":     {"list contracts: [-party] [-status] [-page] [-size]", true, runList},
	"events":   {"list outbox events: [-id] [-limit]", true, runEvents},
}

type app struct {
	cfg    config.Config
	log    *logrus.Logger
	out    io.Writer
	pool   *pgxpool.Pool
	auth   *auth.Service
	ledger *ledger.PGLedger
	svc    *contract.Service
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("htlcctl", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", os.Getenv("HTLC_CONFIG"), "path to YAML config")
	fs.Usage = func() { usage(stderr) }
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() == 0 {
		usage(stderr)
		return 2
	}

	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		usage(stderr)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	a := &app{cfg: cfg, log: cfg.NewLogger(), out: stdout}
	a.log.SetOutput(stderr)

	if cmd.needsDB {
		if err := a.connect(ctx); err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		defer a.pool.Close()
	}

	if err := cmd.run(ctx, a, fs.Args()[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 2
		}
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return 1
	}
	return 0
}

func (a *app) connect(ctx context.Context) error {
	pool, err := db.NewPool(ctx, a.cfg.DatabaseURL, db.PoolOptions{MaxConns: 8})
	if err != nil {
		return err
	}
	a.pool = pool
	a.auth = auth.NewService(auth.NewRepository(pool), a.cfg.JWTSecret, a.cfg.TokenTTL.Duration)
	a.ledger = ledger.NewPGLedger(pool)
	a.svc = contract.NewService(
		contract.NewRepository(pool, a.log),
		a.ledger,
		auth.NewTokenAuthorizer(a.auth),
		contract.Options{
			Scheme: a.cfg.Scheme(),
			Policy: a.cfg.TimelockPolicy(),
			Sink:   notify.NewLogSink(a.log),
			Logger: a.log,
		},
	)
	return nil
}

func usage(w io.Writer) {
	fmt.Fprintln(w, "usage: htlcctl [-config path] <command> [flags]")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-9s %s\n", name, commands[name].usage)
	}
}
