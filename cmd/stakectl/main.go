// stakectl is a command-line client of the staking ledger API.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"staking-ledger/internal/api"
	"staking-ledger/internal/client"
	"staking-ledger/internal/domain"
	"staking-ledger/internal/signing"
)

var version = "dev"

func main() {
	app := cli.App{
		Version: version,
		Name:    "stakectl",
		Usage:   "Staking ledger command-line client",
		Flags:   []cli.Flag{serverFlag, keypairFlag, timeoutFlag},
		Commands: []cli.Command{
			{
				Name:   "keygen",
				Usage:  "Generate a new signer keypair",
				Flags:  []cli.Flag{outFlag, forceFlag},
				Action: keygenAction,
			},
			{
				Name:   "airdrop",
				Usage:  "Credit native lamports from the faucet (development servers only)",
				Flags:  []cli.Flag{addressFlag, amountFlag},
				Action: airdropAction,
			},
			{
				Name:   "init",
				Usage:  "Initialize a pool with the signer as admin and upgrade authority",
				Flags:  []cli.Flag{poolFlag, mintFlag, withdrawalLimitFlag, timeLockFlag},
				Action: initAction,
			},
			{
				Name:   "derive",
				Usage:  "Show the treasury and mint-authority derivations of a pool",
				Flags:  []cli.Flag{poolFlag},
				Action: deriveAction,
			},
			{
				Name:   "stake",
				Usage:  "Deposit SOL and receive receipt-tokens 1:1",
				Flags:  []cli.Flag{poolFlag, amountFlag},
				Action: amountAction((*client.Client).Stake),
			},
			{
				Name:   "unstake",
				Usage:  "Burn receipt-tokens and receive SOL 1:1",
				Flags:  []cli.Flag{poolFlag, amountFlag},
				Action: amountAction((*client.Client).Unstake),
			},
			{
				Name:   "withdraw",
				Usage:  "Withdraw SOL from the treasury as the pool admin",
				Flags:  []cli.Flag{poolFlag, amountFlag},
				Action: amountAction((*client.Client).Withdraw),
			},
			{
				Name:   "set-admin",
				Usage:  "Reassign the pool admin",
				Flags:  []cli.Flag{poolFlag, newAdminFlag},
				Action: setAdminAction,
			},
			{
				Name:   "set-upgrade-authority",
				Usage:  "Reassign the pool upgrade authority",
				Flags:  []cli.Flag{poolFlag, newAuthorityFlag},
				Action: setUpgradeAuthorityAction,
			},
			{
				Name:   "metadata",
				Usage:  "Show or register receipt-token metadata",
				Flags:  []cli.Flag{poolFlag, nameFlag, symbolFlag, uriFlag},
				Action: metadataAction,
			},
			{
				Name:   "open-account",
				Usage:  "Open the signer's receipt-token account for a pool",
				Flags:  []cli.Flag{poolFlag},
				Action: openAccountAction,
			},
			{
				Name:   "pool",
				Usage:  "Show one pool, or list all pools when --pool is empty",
				Flags:  []cli.Flag{poolFlag},
				Action: poolAction,
			},
			{
				Name:   "backing",
				Usage:  "Compare a pool's treasury with its receipt-token supply",
				Flags:  []cli.Flag{poolFlag},
				Action: backingAction,
			},
			{
				Name:   "balance",
				Usage:  "Show a native balance, or a receipt-token balance with --pool",
				Flags:  []cli.Flag{poolFlag, addressFlag},
				Action: balanceAction,
			},
			{
				Name:   "events",
				Usage:  "List a pool's committed events",
				Flags:  []cli.Flag{poolFlag, afterSeqFlag, limitFlag},
				Action: eventsAction,
			},
			{
				Name:   "watch",
				Usage:  "Stream a pool's events until interrupted",
				Flags:  []cli.Flag{poolFlag, afterSeqFlag},
				Action: watchAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// newClient builds an API client from the global flags. The keypair is
// optional: read-only commands work without one.
func newClient(ctx *cli.Context) (*client.Client, error) {
	var opts []client.Option
	if d := ctx.GlobalDuration(timeoutFlag.Name); d > 0 {
		opts = append(opts, client.WithTimeout(d))
	}

	path := ctx.GlobalString(keypairFlag.Name)
	kp, err := signing.LoadKeypair(path)
	switch {
	case err == nil:
		opts = append(opts, client.WithKeypair(kp))
	case !errors.Is(err, os.ErrNotExist):
		return nil, errors.Wrap(err, "-keypair")
	}

	return client.New(ctx.GlobalString(serverFlag.Name), opts...), nil
}

func requirePubkey(ctx *cli.Context, flag cli.StringFlag) (domain.Pubkey, error) {
	s := ctx.String(flag.Name)
	if s == "" {
		return domain.Pubkey{}, errors.Errorf("-%s is required", flag.Name)
	}
	key, err := domain.ParsePubkey(s)
	if err != nil {
		return domain.Pubkey{}, errors.Wrap(err, "-"+flag.Name)
	}
	return key, nil
}

func optionalPubkey(ctx *cli.Context, flag cli.StringFlag) (domain.Pubkey, bool, error) {
	if ctx.String(flag.Name) == "" {
		return domain.Pubkey{}, false, nil
	}
	key, err := requirePubkey(ctx, flag)
	return key, err == nil, err
}

func requireAmount(ctx *cli.Context) (uint64, error) {
	s := ctx.String(amountFlag.Name)
	if s == "" {
		return 0, errors.New("-amount is required")
	}
	return parseSOL(s)
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func keygenAction(ctx *cli.Context) error {
	path := ctx.String(outFlag.Name)
	if _, err := os.Stat(path); err == nil && !ctx.Bool(forceFlag.Name) {
		return errors.Errorf("%s already exists (use -force to overwrite)", path)
	}

	kp, err := signing.GenerateKeypair()
	if err != nil {
		return err
	}
	if err := signing.SaveKeypair(path, kp); err != nil {
		return err
	}
	fmt.Printf("Wrote %s\nPubkey: %s\n", path, kp.Pubkey())
	return nil
}

func airdropAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	to, ok, err := optionalPubkey(ctx, addressFlag)
	if err != nil {
		return err
	}
	if !ok {
		if to = c.Signer(); to.IsZero() {
			return errors.New("-address is required without a keypair")
		}
	}
	amount, err := requireAmount(ctx)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	balance, err := c.Airdrop(cctx, to, amount)
	if err != nil {
		return errors.Wrap(err, "airdrop")
	}
	fmt.Printf("%s balance: %s SOL\n", to, formatSOL(balance))
	return nil
}

func initAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}

	pool, ok, err := optionalPubkey(ctx, poolFlag)
	if err != nil {
		return err
	}
	if !ok {
		if pool, err = freshPubkey(); err != nil {
			return err
		}
	}
	mint, ok, err := optionalPubkey(ctx, mintFlag)
	if err != nil {
		return err
	}
	if !ok {
		if mint, err = freshPubkey(); err != nil {
			return err
		}
	}
	limit, err := parseSOL(ctx.String(withdrawalLimitFlag.Name))
	if err != nil {
		return errors.Wrap(err, "-withdrawal-limit")
	}

	cctx, cancel := commandContext()
	defer cancel()

	state, err := c.InitializePool(cctx, pool, mint, limit, ctx.Int64(timeLockFlag.Name))
	if err != nil {
		return errors.Wrap(err, "initialize")
	}
	return printJSON(state)
}

func freshPubkey() (domain.Pubkey, error) {
	kp, err := signing.GenerateKeypair()
	if err != nil {
		return domain.Pubkey{}, err
	}
	return kp.Pubkey(), nil
}

func deriveAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	d, err := c.Derive(cctx, pool)
	if err != nil {
		return errors.Wrap(err, "derive")
	}
	return printJSON(d)
}

type amountOp func(c *client.Client, ctx context.Context, pool domain.Pubkey, amount uint64) (*domain.Event, error)

func amountAction(op amountOp) cli.ActionFunc {
	return func(ctx *cli.Context) error {
		c, err := newClient(ctx)
		if err != nil {
			return err
		}
		pool, err := requirePubkey(ctx, poolFlag)
		if err != nil {
			return err
		}
		amount, err := requireAmount(ctx)
		if err != nil {
			return err
		}

		cctx, cancel := commandContext()
		defer cancel()

		event, err := op(c, cctx, pool, amount)
		if err != nil {
			return errors.Wrap(err, ctx.Command.Name)
		}
		return printJSON(event)
	}
}

func setAdminAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}
	newAdmin, err := requirePubkey(ctx, newAdminFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	event, err := c.ChangeAdmin(cctx, pool, newAdmin)
	if err != nil {
		return errors.Wrap(err, "set admin")
	}
	return printJSON(event)
}

func setUpgradeAuthorityAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}
	newAuthority, err := requirePubkey(ctx, newAuthorityFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	event, err := c.SetUpgradeAuthority(cctx, pool, newAuthority)
	if err != nil {
		return errors.Wrap(err, "set upgrade authority")
	}
	return printJSON(event)
}

func metadataAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	req := api.MetadataRequest{
		Name:   ctx.String(nameFlag.Name),
		Symbol: ctx.String(symbolFlag.Name),
		URI:    ctx.String(uriFlag.Name),
	}
	if req == (api.MetadataRequest{}) {
		md, err := c.Metadata(cctx, pool)
		if err != nil {
			return errors.Wrap(err, "metadata")
		}
		return printJSON(md)
	}

	md, err := c.RegisterMetadata(cctx, pool, req)
	if err != nil {
		return errors.Wrap(err, "register metadata")
	}
	return printJSON(md)
}

func openAccountAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	account, err := c.OpenReceiptAccount(cctx, pool)
	if err != nil {
		return errors.Wrap(err, "open account")
	}
	return printJSON(account)
}

func poolAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, ok, err := optionalPubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	if !ok {
		pools, err := c.Pools(cctx)
		if err != nil {
			return errors.Wrap(err, "list pools")
		}
		return printJSON(pools)
	}

	state, err := c.Pool(cctx, pool)
	if err != nil {
		return errors.Wrap(err, "pool")
	}
	return printJSON(state)
}

func backingAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	b, err := c.Backing(cctx, pool)
	if err != nil {
		return errors.Wrap(err, "backing")
	}
	fmt.Printf("Treasury:  %s SOL\nSupply:    %s\nShortfall: %s\n",
		formatSOL(b.Treasury), formatSOL(b.Supply), formatSOL(b.Shortfall))
	return nil
}

func balanceAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	address, ok, err := optionalPubkey(ctx, addressFlag)
	if err != nil {
		return err
	}
	if !ok {
		if address = c.Signer(); address.IsZero() {
			return errors.New("-address is required without a keypair")
		}
	}
	pool, hasPool, err := optionalPubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	if hasPool {
		amount, err := c.ReceiptBalance(cctx, pool, address)
		if err != nil {
			return errors.Wrap(err, "receipt balance")
		}
		fmt.Println(formatSOL(amount))
		return nil
	}

	amount, err := c.NativeBalance(cctx, address)
	if err != nil {
		return errors.Wrap(err, "balance")
	}
	fmt.Printf("%s SOL\n", formatSOL(amount))
	return nil
}

func eventsAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	resp, err := c.Events(cctx, pool, ctx.Uint64(afterSeqFlag.Name), ctx.Int(limitFlag.Name))
	if err != nil {
		return errors.Wrap(err, "events")
	}
	return printJSON(resp)
}

func watchAction(ctx *cli.Context) error {
	c, err := newClient(ctx)
	if err != nil {
		return err
	}
	pool, err := requirePubkey(ctx, poolFlag)
	if err != nil {
		return err
	}

	cctx, cancel := commandContext()
	defer cancel()

	sub, err := c.Subscribe(cctx, pool, ctx.Uint64(afterSeqFlag.Name), nil)
	if err != nil {
		return errors.Wrap(err, "subscribe")
	}
	defer sub.Close()

	enc := json.NewEncoder(os.Stdout)
	for e := range sub.Events() {
		if err := enc.Encode(e); err != nil {
			return err
		}
	}
	if err := sub.Err(); err != nil && cctx.Err() == nil {
		return errors.Wrap(err, "stream")
	}
	return nil
}
