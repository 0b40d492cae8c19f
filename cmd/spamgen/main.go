// Command spamgen drives a single load-generation run against an
// EVM-compatible JSON-RPC endpoint. This is a thin demo entrypoint, not
// the real CLI surface (scenario-file parsing and reporting are out of
// scope); it wires a hardcoded fill-block-style scenario through the
// engine so the core can be exercised end to end.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/spamgen/spamgen/internal/engine"
	"github.com/spamgen/spamgen/internal/rpcclient"
	"github.com/spamgen/spamgen/internal/scenario"
	"github.com/spamgen/spamgen/internal/seeder"
	"github.com/spamgen/spamgen/internal/store"
)

func envOrDefault(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

var debugEnabled = os.Getenv("SPAMGEN_DEBUG") != ""

func debugf(format string, args ...interface{}) {
	if debugEnabled {
		log.Printf("[debug] "+format, args...)
	}
}

func main() {
	app := &cli.App{
		Name:  "spamgen",
		Usage: "fire a fixed-TPS spam run of plain value transfers at an EVM RPC endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "endpoint",
				Aliases: []string{"e"},
				Value:   envOrDefault("SPAMGEN_ENDPOINT", "http://127.0.0.1:8545"),
				Usage:   "JSON-RPC endpoint URL",
			},
			&cli.Uint64Flag{
				Name:  "seed",
				Value: uint64(envInt("SPAMGEN_SEED", 1)),
				Usage: "deterministic run seed",
			},
			&cli.IntFlag{
				Name:  "pool-size",
				Value: envInt("SPAMGEN_POOL_SIZE", 4),
				Usage: "signers per pool",
			},
			&cli.IntFlag{
				Name:  "tps",
				Value: envInt("SPAMGEN_TPS", 10),
				Usage: "transactions per period",
			},
			&cli.IntFlag{
				Name:  "periods",
				Value: envInt("SPAMGEN_PERIODS", 10),
				Usage: "number of periods to run",
			},
			&cli.DurationFlag{
				Name:  "tick",
				Value: time.Second,
				Usage: "wall-clock interval between periods; 0 switches to blockwise pacing",
			},
			&cli.StringFlag{
				Name:  "to",
				Value: envOrDefault("SPAMGEN_TO", "0x00000000000000000000000000000000000000ff"),
				Usage: "recipient address for the spam transfers",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func run(c *cli.Context) error {
	endpoint := c.String("endpoint")
	to := c.String("to")
	if !common.IsHexAddress(to) {
		return fmt.Errorf("invalid --to address %q", to)
	}

	log.Printf("[spamgen] dialing %s", endpoint)
	ctx := context.Background()
	rpc, err := rpcclient.Dial(ctx, endpoint)
	if err != nil {
		return fmt.Errorf("dialing endpoint: %w", err)
	}
	defer rpc.Close()

	persistence := store.NewMemStore()

	cfg := engine.Config{
		Seed:                seeder.FromUint64(c.Uint64("seed")),
		Endpoint:            endpoint,
		ScenarioName:        "fill-block",
		PerPoolCount:        c.Int("pool-size"),
		TxsPerPeriod:        c.Int("tps"),
		NumPeriods:          c.Int("periods"),
		TickInterval:        c.Duration("tick"),
		GasPriceBumpPercent: 0,
	}

	s := scenario.Scenario{
		Spam: []scenario.SpamRequest{
			scenario.TxRequest(scenario.CallDef{
				To:       to,
				FromPool: "spammers",
				Value:    "1",
				Kind:     "transfer",
			}),
		},
	}

	debugf("config: %+v", cfg)

	e := engine.New(cfg, rpc, persistence)
	runID, err := e.Run(ctx, s)
	if err != nil {
		log.Printf("[spamgen] run %s ended with error: %v", runID, err)
		return err
	}

	txs, err := persistence.GetRunTxs(ctx, runID)
	if err != nil {
		return fmt.Errorf("reading run txs: %w", err)
	}
	confirmed, failed := 0, 0
	for _, tx := range txs {
		if tx.Err != nil {
			failed++
			continue
		}
		if tx.BlockNumber != nil {
			confirmed++
		}
	}
	log.Printf("[spamgen] run %s complete: %d txs total, %d confirmed, %d failed", runID, len(txs), confirmed, failed)
	return nil
}
