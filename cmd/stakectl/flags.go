package main

import (
	"os"
	"path/filepath"

	cli "gopkg.in/urfave/cli.v1"
)

var (
	serverFlag = cli.StringFlag{
		Name:   "server",
		Value:  "http://localhost:8080",
		EnvVar: "STAKING_SERVER",
		Usage:  "staking ledger API base URL",
	}
	keypairFlag = cli.StringFlag{
		Name:   "keypair",
		Value:  defaultKeypairPath(),
		EnvVar: "STAKING_KEYPAIR",
		Usage:  "signer keypair file (JSON byte array)",
	}
	timeoutFlag = cli.DurationFlag{
		Name:  "timeout",
		Value: 0,
		Usage: "request timeout (0 uses the client default)",
	}

	poolFlag = cli.StringFlag{
		Name:  "pool",
		Usage: "pool address",
	}
	mintFlag = cli.StringFlag{
		Name:  "mint",
		Usage: "receipt-token mint address (generated when empty)",
	}
	amountFlag = cli.StringFlag{
		Name:  "amount",
		Usage: "amount in SOL, up to 9 decimal places",
	}
	withdrawalLimitFlag = cli.StringFlag{
		Name:  "withdrawal-limit",
		Value: "100",
		Usage: "max SOL per admin withdrawal",
	}
	timeLockFlag = cli.Int64Flag{
		Name:  "time-lock",
		Value: 86400,
		Usage: "seconds between admin withdrawals",
	}
	addressFlag = cli.StringFlag{
		Name:  "address",
		Usage: "account address (defaults to the signer)",
	}
	newAdminFlag = cli.StringFlag{
		Name:  "new-admin",
		Usage: "address of the new admin",
	}
	newAuthorityFlag = cli.StringFlag{
		Name:  "new-authority",
		Usage: "address of the new upgrade authority",
	}
	nameFlag = cli.StringFlag{
		Name:  "name",
		Usage: "token name",
	}
	symbolFlag = cli.StringFlag{
		Name:  "symbol",
		Usage: "token symbol",
	}
	uriFlag = cli.StringFlag{
		Name:  "uri",
		Usage: "token metadata URI",
	}
	afterSeqFlag = cli.Uint64Flag{
		Name:  "after-seq",
		Usage: "only events with a greater sequence number",
	}
	limitFlag = cli.IntFlag{
		Name:  "limit",
		Value: 100,
		Usage: "maximum number of events",
	}
	outFlag = cli.StringFlag{
		Name:  "out",
		Value: defaultKeypairPath(),
		Usage: "where to write the new keypair",
	}
	forceFlag = cli.BoolFlag{
		Name:  "force",
		Usage: "overwrite an existing keypair file",
	}
)

func defaultKeypairPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "id.json"
	}
	return filepath.Join(home, ".config", "stakectl", "id.json")
}
