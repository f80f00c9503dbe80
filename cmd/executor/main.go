package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/pyxis-lab/pyxis-executor/internal/decision"
	"github.com/pyxis-lab/pyxis-executor/internal/engine"
	enginev1 "github.com/pyxis-lab/pyxis-executor/internal/engine/engine_v1"
	"github.com/pyxis-lab/pyxis-executor/internal/logger"
	"github.com/pyxis-lab/pyxis-executor/internal/monitor"
	"github.com/pyxis-lab/pyxis-executor/internal/types"
)

// runAction wires an engine from the CLI flags and drives one run to
// completion.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configBytes, err := os.ReadFile(cmd.String("config"))
	if err != nil {
		return fmt.Errorf("failed to read config: %w", err)
	}

	// The engine parses the config itself; this parse only reads the fields
	// the CLI wires up around it.
	var config engine.Config
	if err := yaml.Unmarshal(configBytes, &config); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	weights, err := parseWeights(cmd.String("weights"))
	if err != nil {
		return err
	}

	decider, err := decision.NewRebalancer(weights, cmd.Float("min-notional"))
	if err != nil {
		return fmt.Errorf("failed to build rebalancer: %w", err)
	}

	eng := enginev1.NewExecutorEngineV1()

	defer func() {
		if closeErr := eng.Close(); closeErr != nil {
			log.Printf("Warning: failed to close engine: %v", closeErr)
		}
	}()

	if err := eng.Initialize(string(configBytes)); err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	if err := eng.SetDecider(decider); err != nil {
		return fmt.Errorf("failed to set decider: %w", err)
	}

	if folder := cmd.String("results"); folder != "" {
		if err := eng.SetResultsFolder(folder); err != nil {
			return fmt.Errorf("failed to set results folder: %w", err)
		}
	}

	monitorAddr := cmd.String("monitor")
	if monitorAddr == "" {
		monitorAddr = config.MonitorAddr
	}

	var monitorServer *monitor.Server

	if monitorAddr != "" {
		monitorLogger, err := logger.NewLogger()
		if err != nil {
			return fmt.Errorf("failed to create monitor logger: %w", err)
		}

		monitorServer = monitor.NewServer(eng, monitorLogger)
		if err := monitorServer.Start(monitorAddr); err != nil {
			return fmt.Errorf("failed to start monitor: %w", err)
		}

		defer func() {
			if stopErr := monitorServer.Stop(); stopErr != nil {
				log.Printf("Warning: failed to stop monitor: %v", stopErr)
			}
		}()
	}

	log.Printf("Starting %s run with decider %s...", config.Mode, decider.Name())

	if err := eng.Run(ctx, runCallbacks(config.Mode, monitorServer)); err != nil {
		if errors.Is(err, context.Canceled) {
			log.Println("Run stopped by user")
			return nil
		}

		return fmt.Errorf("run failed: %w", err)
	}

	stats, err := eng.Statistics()
	if err != nil {
		return fmt.Errorf("failed to compute statistics: %w", err)
	}

	log.Printf("Run %s finished: %d trades settled, %d failed, return %.4f%%",
		stats.ID, stats.TradeResult.NumberOfSettledTrades,
		stats.TradeResult.NumberOfFailedTrades, stats.TotalReturn*100)

	return nil
}

// parseWeights parses a comma separated ASSET=WEIGHT list, e.g.
// "BTCUSDT=0.5,ETHUSDT=0.3".
func parseWeights(raw string) (map[string]float64, error) {
	weights := make(map[string]float64)

	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}

		asset, value, found := strings.Cut(pair, "=")
		if !found {
			return nil, fmt.Errorf("invalid weight %q, expected ASSET=WEIGHT", pair)
		}

		asset = strings.TrimSpace(asset)
		if asset == "" {
			return nil, fmt.Errorf("invalid weight %q, empty asset", pair)
		}

		weight, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid weight for %s: %w", asset, err)
		}

		weights[asset] = weight
	}

	if len(weights) == 0 {
		return nil, fmt.Errorf("no target weights given")
	}

	return weights, nil
}

// runCallbacks builds the CLI's run observers: a progress bar for backtests,
// plain log lines otherwise, and a monitor broadcast when one is running.
func runCallbacks(mode engine.Mode, monitorServer *monitor.Server) engine.LifecycleCallbacks {
	var bar *progressbar.ProgressBar

	onRunStart := engine.OnRunStartCallback(func(runID string, totalCycles int) error {
		log.Printf("Run %s started", runID)

		if mode == engine.ModeBacktest && totalCycles > 0 {
			bar = progressbar.NewOptions(totalCycles,
				progressbar.OptionSetDescription(fmt.Sprintf("Replaying %d cycles", totalCycles)),
				progressbar.OptionShowCount(),
			)
		}

		return nil
	})

	onCycleStart := engine.OnCycleStartCallback(func(cycleNumber int64, current int, total int) error {
		if bar != nil {
			return bar.Set(current)
		}

		return nil
	})

	onCycleEnd := engine.OnCycleEndCallback(func(record types.CycleRecord) {
		if monitorServer != nil {
			monitorServer.BroadcastCycle(record)
		}

		if bar == nil {
			log.Printf("Cycle %d sealed: %s, %d trades", record.Number, record.Status, len(record.TradeIDs))
		}
	})

	onTradeSettled := engine.OnTradeSettledCallback(func(trade types.Trade) {
		if bar == nil {
			log.Printf("Trade settled: %s %s %.6f @ %.2f",
				trade.Side, trade.Asset, trade.FilledQuantity, trade.FilledPrice)
		}
	})

	onTradeFailed := engine.OnTradeFailedCallback(func(trade types.Trade) {
		log.Printf("Trade failed: %s %s %.6f (%s)",
			trade.Side, trade.Asset, trade.PlannedQuantity, trade.State)
	})

	onRunEnd := engine.OnRunEndCallback(func(err error) {
		if bar != nil {
			_ = bar.Finish()
		}

		if err != nil {
			log.Printf("Run ended with error: %v", err)
		} else {
			log.Println("Run complete")
		}
	})

	return engine.LifecycleCallbacks{
		OnRunStart:     &onRunStart,
		OnRunEnd:       &onRunEnd,
		OnCycleStart:   &onCycleStart,
		OnCycleEnd:     &onCycleEnd,
		OnTradeSettled: &onTradeSettled,
		OnTradeFailed:  &onTradeFailed,
	}
}

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received interrupt signal, stopping...")
		cancel()
	}()

	cmd := &cli.Command{
		Name:  "executor",
		Usage: "Run the trade execution engine",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "Path to the engine YAML configuration",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "weights",
				Aliases:  []string{"w"},
				Usage:    "Target weights as `ASSET=WEIGHT` pairs, comma separated",
				Required: true,
			},
			&cli.FloatFlag{
				Name:  "min-notional",
				Usage: "Smallest rebalance adjustment worth trading",
				Value: 10,
			},
			&cli.StringFlag{
				Name:    "results",
				Aliases: []string{"r"},
				Usage:   "Folder for the journal, state and stats",
				Value:   "results",
			},
			&cli.StringFlag{
				Name:    "monitor",
				Aliases: []string{"m"},
				Usage:   "Monitor listen address, overriding the config",
			},
		},
		Action: runAction,
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
