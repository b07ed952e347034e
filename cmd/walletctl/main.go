// Command walletctl is a read-only inspection tool for the custodian's
// on-disk store: balance, deposit, withdrawal and bucket lookups,
// mirroring cmd/dcrlncli's thin cli.Command-per-operation shape but
// talking to the bbolt file directly rather than over RPC.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/table"
	"github.com/urfave/cli"

	"github.com/nnlgsakib/crypto-manager-engine/account"
	"github.com/nnlgsakib/crypto-manager-engine/bucket"
	"github.com/nnlgsakib/crypto-manager-engine/deposit"
	"github.com/nnlgsakib/crypto-manager-engine/ledger"
	"github.com/nnlgsakib/crypto-manager-engine/store"
	"github.com/nnlgsakib/crypto-manager-engine/store/boltstore"
	"github.com/nnlgsakib/crypto-manager-engine/withdrawal"
)

var datadirFlag = cli.StringFlag{
	Name:  "datadir",
	Usage: "directory holding the bbolt database file",
	Value: "~/.crypto-manager-engine",
}

func main() {
	app := cli.NewApp()
	app.Name = "walletctl"
	app.Usage = "inspect a crypto-manager-engine data directory"
	app.Flags = []cli.Flag{datadirFlag}
	app.Commands = []cli.Command{
		balanceCommand,
		accountCommand,
		depositCommand,
		withdrawalCommand,
		bucketCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func openStore(ctx *cli.Context) (*boltstore.Store, error) {
	dbPath := ctx.GlobalString("datadir") + "/crypto-manager-engine.db"
	return boltstore.Open(dbPath)
}

var accountCommand = cli.Command{
	Name:      "account",
	Usage:     "show the derived deposit account for a user",
	ArgsUsage: "username",
	Action:    actionDecorator(showAccount),
}

func showAccount(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "account")
	}
	kv, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	raw, err := kv.Get(store.AccountKey(ctx.Args().Get(0)))
	if err != nil {
		return err
	}
	var a account.Account
	if err := json.Unmarshal(raw, &a); err != nil {
		return fmt.Errorf("decoding account: %w", err)
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Username", "Address", "Created"})
	tw.AppendRow(table.Row{a.Username, a.Address, a.CreatedAt.Format(time.RFC3339)})
	fmt.Println(tw.Render())
	return nil
}

var balanceCommand = cli.Command{
	Name:      "balance",
	Usage:     "show a user's available/frozen balance for a chain and currency",
	ArgsUsage: "username chainid currency",
	Action:    actionDecorator(showBalance),
}

func showBalance(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.ShowCommandHelp(ctx, "balance")
	}
	chainID, err := strconv.ParseUint(ctx.Args().Get(1), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chainid: %w", err)
	}

	kv, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	ldgr := ledger.New(kv)
	bal, err := ldgr.Get(ctx.Args().Get(0), chainID, ctx.Args().Get(2))
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Username", "Chain", "Currency", "Available", "Frozen"})
	tw.AppendRow(table.Row{bal.Username, bal.ChainID, bal.Currency, bal.Available, bal.Frozen})
	fmt.Println(tw.Render())
	return nil
}

var depositCommand = cli.Command{
	Name:      "deposit",
	Usage:     "show a deposit record by its originating transaction hash",
	ArgsUsage: "txhash",
	Action:    actionDecorator(showDeposit),
}

func showDeposit(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "deposit")
	}
	kv, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	deps := deposit.NewStore(kv)
	d, err := deps.Get(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"TxHash", "Username", "Chain", "Currency", "Amount", "State", "Confirmations"})
	tw.AppendRow(table.Row{d.TxHash, d.Username, d.ChainID, d.Currency, d.Amount, d.State, d.Confirmations})
	fmt.Println(tw.Render())
	return nil
}

var withdrawalCommand = cli.Command{
	Name:      "withdrawal",
	Usage:     "show a withdrawal record by id",
	ArgsUsage: "id",
	Action:    actionDecorator(showWithdrawal),
}

func showWithdrawal(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return cli.ShowCommandHelp(ctx, "withdrawal")
	}
	kv, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	wds := withdrawal.NewStore(kv)
	w, err := wds.Get(ctx.Args().Get(0))
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Username", "Chain", "Currency", "Amount", "Destination", "State", "Bucket", "SettlementTx"})
	tw.AppendRow(table.Row{w.ID, w.Username, w.ChainID, w.Currency, w.Amount, w.DestinationAddress, w.State, w.BucketID, w.SettlementTxHash})
	fmt.Println(tw.Render())
	return nil
}

var bucketCommand = cli.Command{
	Name:      "bucket",
	Usage:     "show the current settlement bucket for a chain, currency and window size",
	ArgsUsage: "chainid currency windowms",
	Action:    actionDecorator(showBucket),
}

func showBucket(ctx *cli.Context) error {
	if ctx.NArg() != 3 {
		return cli.ShowCommandHelp(ctx, "bucket")
	}
	chainID, err := strconv.ParseUint(ctx.Args().Get(0), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chainid: %w", err)
	}
	windowMs, err := strconv.ParseInt(ctx.Args().Get(2), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid windowms: %w", err)
	}

	kv, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer kv.Close()

	bkts := bucket.NewStore(kv)
	idx := bucket.WindowIndex(time.Now(), windowMs)
	b, err := bkts.Get(chainID, ctx.Args().Get(1), idx)
	if err != nil {
		return err
	}

	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"ID", "Withdrawals", "Created", "Expires", "Settled"})
	tw.AppendRow(table.Row{b.ID(), len(b.WithdrawalIDs), b.CreatedAt.Format(time.RFC3339), b.ExpiresAt.Format(time.RFC3339), b.Settled})
	fmt.Println(tw.Render())
	return nil
}

// actionDecorator wraps a cli.Context action so a returned non-nil error
// is printed the same way across every command, matching dcrlncli's
// helper of the same name.
func actionDecorator(f func(*cli.Context) error) func(*cli.Context) error {
	return func(c *cli.Context) error {
		if err := f(c); err != nil {
			return cli.NewExitError(err.Error(), 1)
		}
		return nil
	}
}
