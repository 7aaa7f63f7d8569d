package main

import (
	"context"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"htlcflow/auth"
	"htlcflow/commitment"
	"htlcflow/contract"
	"htlcflow/ledger"
	"htlcflow/migrations"
	"htlcflow/notify"
)

func newFlagSet(name string, a *app) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	return fs
}

func runMigrate(ctx context.Context, a *app, _ []string) error {
	applied, err := migrations.Apply(ctx, a.pool)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(a.out, "schema up to date")
		return nil
	}
	for _, v := range applied {
		fmt.Fprintf(a.out, "applied %s\n", v)
	}
	return nil
}

func runRegister(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("register", a)
	handle := fs.String("handle", "", "party handle")
	password := fs.String("password", "", "party password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	party, err := a.auth.Register(ctx, auth.RegisterRequest{Handle: *handle, Password: *password})
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\n", party.ID, party.Handle)
	return nil
}

func runLogin(ctx context.Context, a *app, args []string) error {
	if err := a.cfg.RequireTokens(); err != nil {
		return err
	}
	fs := newFlagSet("login", a)
	handle := fs.String("handle", "", "party handle")
	password := fs.String("password", "", "party password")
	if err := fs.Parse(args); err != nil {
		return err
	}

	res, err := a.auth.Login(ctx, auth.LoginRequest{Handle: *handle, Password: *password})
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, res.Token)
	return nil
}

func runFund(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("fund", a)
	account := fs.String("account", "", "account (party id)")
	amount := fs.String("amount", "", "amount in display units")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if ledger.IsCustodyAccount(*account) {
		return fmt.Errorf("refusing to fund custody account %s", *account)
	}

	units, err := ledger.ParseAmount(*amount, a.cfg.Ledger.Decimals)
	if err != nil {
		return err
	}
	if err := a.ledger.Credit(ctx, *account, units); err != nil {
		return err
	}
	return printBalance(ctx, a, *account)
}

func runBalance(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("balance", a)
	account := fs.String("account", "", "account (party id)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return printBalance(ctx, a, *account)
}

func printBalance(ctx context.Context, a *app, account string) error {
	balance, err := a.ledger.BalanceOf(ctx, account)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s\t%s\n", account, ledger.FormatAmount(balance, a.cfg.Ledger.Decimals))
	return nil
}

func runSecret(_ context.Context, a *app, args []string) error {
	fs := newFlagSet("secret", a)
	schemeName := fs.String("scheme", a.cfg.Commitment.Scheme, "commitment scheme")
	if err := fs.Parse(args); err != nil {
		return err
	}
	scheme, err := commitment.SchemeByName(*schemeName)
	if err != nil {
		return err
	}

	secret, err := commitment.NewSecret()
	if err != nil {
		return err
	}
	lock := scheme.Commit(secret)
	fmt.Fprintf(a.out, "scheme\t%s\n", scheme.Name())
	fmt.Fprintf(a.out, "secret\t%s\n", hex.EncodeToString(secret))
	fmt.Fprintf(a.out, "hashlock\t%s\n", lock)
	fmt.Fprintf(a.out, "hashlock_b58\t%s\n", lock.Base58())
	return nil
}

func runCreate(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("create", a)
	token := fs.String("token", "", "depositor bearer token")
	depositor := fs.String("depositor", "", "depositor party id (defaults to the token subject)")
	receiver := fs.String("receiver", "", "receiver party id")
	amount := fs.String("amount", "", "amount in display units")
	lockText := fs.String("hashlock", "", "hashlock, hex or base58")
	deadline := fs.String("timelock", "", "absolute deadline, RFC3339")
	expiresIn := fs.Duration("expires-in", 0, "deadline relative to now")
	if err := fs.Parse(args); err != nil {
		return err
	}

	lock, err := commitment.ParseDigest(*lockText)
	if err != nil {
		return err
	}
	units, err := ledger.ParseAmount(*amount, a.cfg.Ledger.Decimals)
	if err != nil {
		return err
	}
	timelockAt, err := resolveDeadline(*deadline, *expiresIn, time.Now().UTC())
	if err != nil {
		return err
	}
	if *depositor == "" {
		if *depositor, err = a.auth.VerifyToken(*token); err != nil {
			return err
		}
	}

	rec, err := a.svc.Create(ctx, contract.CreateRequest{
		Depositor: *depositor,
		Receiver:  *receiver,
		Amount:    units,
		Hashlock:  lock,
		Timelock:  timelockAt,
		Caller:    auth.Caller{Token: *token},
	})
	if err != nil {
		return err
	}
	return printRecord(a.out, rec, a.cfg.Ledger.Decimals)
}

func runWithdraw(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("withdraw", a)
	token := fs.String("token", "", "receiver bearer token")
	id := fs.String("id", "", "contract id")
	secretHex := fs.String("secret", "", "secret, hex")
	if err := fs.Parse(args); err != nil {
		return err
	}

	secret, err := hex.DecodeString(strings.TrimPrefix(*secretHex, "0x"))
	if err != nil {
		return fmt.Errorf("decode secret: %w", err)
	}
	rec, err := a.svc.Withdraw(ctx, contract.WithdrawRequest{
		ContractID: *id,
		Secret:     secret,
		Caller:     auth.Caller{Token: *token},
	})
	if err != nil {
		return err
	}
	return printRecord(a.out, rec, a.cfg.Ledger.Decimals)
}

func runRefund(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("refund", a)
	token := fs.String("token", "", "depositor bearer token")
	id := fs.String("id", "", "contract id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rec, err := a.svc.Refund(ctx, contract.RefundRequest{ContractID: *id, Caller: auth.Caller{Token: *token}})
	if err != nil {
		return err
	}
	return printRecord(a.out, rec, a.cfg.Ledger.Decimals)
}

func runShow(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("show", a)
	id := fs.String("id", "", "contract id")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rec, err := a.svc.Get(ctx, *id)
	if err != nil {
		return err
	}
	custody, err := a.svc.CustodyBalance(ctx, *id)
	if err != nil {
		return err
	}
	if err := printRecord(a.out, rec, a.cfg.Ledger.Decimals); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "custody\t%s\n", ledger.FormatAmount(custody, a.cfg.Ledger.Decimals))
	return nil
}

func runList(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("list", a)
	party := fs.String("party", "", "depositor or receiver")
	status := fs.String("status", "", "locked, withdrawn or refunded")
	page := fs.Int("page", 1, "page number")
	size := fs.Int("size", 20, "page size")
	if err := fs.Parse(args); err != nil {
		return err
	}

	filter := contract.ListFilter{Party: *party, Page: *page, PageSize: *size}
	if *status != "" {
		st, err := contract.ParseStatus(*status)
		if err != nil {
			return err
		}
		filter.Status = st
	}

	records, err := a.svc.List(ctx, filter)
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tDEPOSITOR\tRECEIVER\tAMOUNT\tTIMELOCK")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status(), r.Depositor, r.Receiver,
			ledger.FormatAmount(r.Amount, a.cfg.Ledger.Decimals), r.Timelock.Format(time.RFC3339))
	}
	return tw.Flush()
}

func runEvents(ctx context.Context, a *app, args []string) error {
	fs := newFlagSet("events", a)
	id := fs.String("id", "", "contract id (all when empty)")
	limit := fs.Int("limit", 50, "maximum events")
	if err := fs.Parse(args); err != nil {
		return err
	}

	msgs, err := notify.ListOutbox(ctx, a.pool, *id, *limit)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		fmt.Fprintf(a.out, "%s\t%s\t%s\t%s\n", m.CreatedAt.UTC().Format(time.RFC3339), m.Topic, m.ContractID, m.Payload)
	}
	return nil
}

// resolveDeadline turns the absolute or relative deadline flags into an
// absolute timestamp.
func resolveDeadline(absolute string, relative time.Duration, now time.Time) (time.Time, error) {
	switch {
	case absolute != "" && relative != 0:
		return time.Time{}, errors.New("use either -timelock or -expires-in")
	case absolute != "":
		t, err := time.Parse(time.RFC3339, absolute)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse -timelock: %w", err)
		}
		return t.UTC(), nil
	case relative > 0:
		return now.Add(relative), nil
	default:
		return time.Time{}, errors.New("a deadline is required: -timelock or -expires-in")
	}
}

func printRecord(w io.Writer, r contract.Record, decimals int32) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "id\t%s\n", r.ID)
	fmt.Fprintf(tw, "status\t%s\n", r.Status())
	fmt.Fprintf(tw, "depositor\t%s\n", r.Depositor)
	fmt.Fprintf(tw, "receiver\t%s\n", r.Receiver)
	fmt.Fprintf(tw, "amount\t%s\n", ledger.FormatAmount(r.Amount, decimals))
	fmt.Fprintf(tw, "hashlock\t%s\n", r.Hashlock)
	fmt.Fprintf(tw, "timelock\t%s\n", r.Timelock.Format(time.RFC3339))
	if r.RevealedSecret != nil {
		fmt.Fprintf(tw, "secret\t%s\n", hex.EncodeToString(r.RevealedSecret))
	}
	if r.FinalizedAt != nil {
		fmt.Fprintf(tw, "finalized\t%s\n", r.FinalizedAt.Format(time.RFC3339))
	}
	return tw.Flush()
}
