// Benchmark tool for measuring generator throughput and dataset separability.
//
// Usage:
//
//	go run cmd/benchmark/main.go -accounts 10000 -steps 720 -alerts 200
//
// This tool:
//  1. Generates a random topology of N accounts with SAR alert groups
//  2. Runs the simulator in-process and measures transactions per second
//  3. Scores the configured screening rules against the SAR labels
//  4. Optionally re-reads the written transaction log and checks it against the run summary
package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/osprey-sim/internal/config"
	"github.com/opensource-finance/osprey-sim/internal/domain"
	"github.com/opensource-finance/osprey-sim/internal/generator"
	"github.com/opensource-finance/osprey-sim/internal/metrics"
	"github.com/opensource-finance/osprey-sim/internal/topology"
)

// LogStats is what the transaction log on disk contains.
type LogStats struct {
	Rows    int64
	SARRows int64
	Steps   int64
}

func main() {
	// Parse flags
	configPath := flag.String("config", "", "Configuration file (screening rules, amounts)")
	accounts := flag.Int("accounts", 10000, "Number of accounts")
	degree := flag.Int("degree", 3, "Outgoing edges per account")
	alerts := flag.Int("alerts", 100, "Number of alert groups")
	alertSize := flag.Int("alert-size", 5, "Members per alert group")
	sarFraction := flag.Float64("sar-fraction", 0.05, "Fraction of SAR accounts (0.0-1.0)")
	steps := flag.Int64("steps", 720, "Simulation steps")
	seed := flag.Int64("seed", 1, "Random seed for topology and simulation")
	outDir := flag.String("out", "", "Write and verify CSV output in this directory")
	verbose := flag.Bool("verbose", false, "Log simulator progress")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
	cfg.Simulation.Name = "benchmark"
	cfg.Simulation.Seed = *seed
	cfg.Simulation.TotalSteps = *steps
	cfg.Output.Directory = *outDir
	cfg.Output.Async = false

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	opts := topology.GenerateOptions{
		Accounts:    *accounts,
		Degree:      *degree,
		Alerts:      *alerts,
		AlertSize:   *alertSize,
		SARFraction: *sarFraction,
		Balance:     100000,
		MinAmount:   cfg.Simulation.MinAmount,
		MaxAmount:   cfg.Simulation.MaxAmount,
		Seed:        *seed,
	}
	if err := opts.Validate(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          OSPREY SIM BENCHMARK - Synthetic AML Dataset         ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nAccounts:     %d\n", opts.Accounts)
	fmt.Printf("Degree:       %d\n", opts.Degree)
	fmt.Printf("Alerts:       %d x %d\n", opts.Alerts, opts.AlertSize)
	fmt.Printf("SAR Fraction: %.2f\n", opts.SARFraction)
	fmt.Printf("Steps:        %d\n", *steps)
	fmt.Printf("Seed:         %d\n", *seed)
	fmt.Printf("Rules:        %d\n", len(cfg.Screening.Rules))
	fmt.Println()

	// Build topology
	buildStart := time.Now()
	doc := topology.Generate(opts)
	stats := doc.Stats()
	fmt.Printf("✓ Generated topology in %v\n", time.Since(buildStart).Round(time.Millisecond))
	fmt.Printf("  - Accounts:  %d (%d SAR)\n", stats.Accounts, stats.SARAccounts)
	fmt.Printf("  - Edges:     %d\n", stats.Edges)
	fmt.Printf("  - Alerts:    %d\n", stats.Alerts)

	// Run simulation
	fmt.Printf("\nRunning simulation...\n")
	gen := generator.New(cfg, generator.Deps{Metrics: metrics.NewRegistry()}, logger)
	startTime := time.Now()
	summary, err := gen.Run(context.Background(), doc, generator.Overrides{})
	duration := time.Since(startTime)
	if err != nil {
		fmt.Printf("ERROR: run failed: %v\n", err)
		os.Exit(1)
	}

	printResults(summary, duration)

	if *outDir != "" {
		path := filepath.Join(*outDir, cfg.Simulation.Name, cfg.Output.TransactionLog)
		logStats, err := readTransactionLog(path)
		if err != nil {
			fmt.Printf("ERROR: failed to read transaction log: %v\n", err)
			os.Exit(1)
		}
		if err := verifyLog(summary, logStats); err != nil {
			fmt.Printf("✗ Transaction log %s: %v\n", path, err)
			os.Exit(1)
		}
		fmt.Printf("✓ Transaction log %s matches the run summary (%d rows)\n\n", path, logStats.Rows)
	}
}

func readTransactionLog(path string) (LogStats, error) {
	var stats LogStats

	file, err := os.Open(path)
	if err != nil {
		return stats, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return stats, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(col)] = i
	}
	for _, col := range []string{"step", "is_sar"} {
		if _, ok := colIndex[col]; !ok {
			return stats, fmt.Errorf("missing column %q", col)
		}
	}

	lastStep := int64(-1)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return stats, err
		}

		step, err := strconv.ParseInt(record[colIndex["step"]], 10, 64)
		if err != nil {
			return stats, fmt.Errorf("row %d: invalid step: %w", stats.Rows+1, err)
		}
		if step < lastStep {
			return stats, fmt.Errorf("row %d: step %d after step %d", stats.Rows+1, step, lastStep)
		}
		if step != lastStep {
			stats.Steps++
			lastStep = step
		}

		stats.Rows++
		if record[colIndex["is_sar"]] == "1" {
			stats.SARRows++
		}
	}

	return stats, nil
}

func verifyLog(s *domain.RunSummary, l LogStats) error {
	var errs []error
	if l.Rows != s.Transactions {
		errs = append(errs, fmt.Errorf("%d rows, summary reports %d transactions", l.Rows, s.Transactions))
	}
	if l.SARRows != s.SARTransactions {
		errs = append(errs, fmt.Errorf("%d SAR rows, summary reports %d", l.SARRows, s.SARTransactions))
	}
	return errors.Join(errs...)
}

func printResults(s *domain.RunSummary, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Run:              %s\n", s.ID)
	fmt.Printf("   Status:           %s\n", s.Status)
	fmt.Printf("   Transactions:     %d\n", s.Transactions)
	fmt.Printf("   SAR:              %d (%.2f%%)\n", s.SARTransactions, s.SARRatio()*100)
	fmt.Printf("   Skipped:          %d\n", s.SkippedTransactions)
	fmt.Printf("   Total Amount:     %.2f\n", s.TotalAmount)

	busiest, busiestStep := int64(0), -1
	for i, n := range s.StepCounts {
		if n > busiest {
			busiest, busiestStep = n, i
		}
	}
	if busiestStep >= 0 {
		fmt.Printf("   Busiest Step:     %d (%d transactions)\n", busiestStep, busiest)
	}

	for _, r := range s.Screening {
		printMatrix(r)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if s.Transactions > 0 {
		tps := float64(s.Transactions) / duration.Seconds()
		perStep := float64(duration.Microseconds()) / float64(s.TotalSteps)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
		fmt.Printf("   Avg Step:         %.2f µs\n", perStep)
	}

	fmt.Println()
}

func printMatrix(r domain.ScreeningResult) {
	fmt.Printf("\n📈 RULE %s", r.RuleID)
	if r.Name != "" {
		fmt.Printf(" (%s)", r.Name)
	}
	fmt.Println()
	fmt.Println("                        Flagged")
	fmt.Println("                    YES         NO")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual SAR │ %8d │ %8d │  (TP, FN)\n", r.TruePositives, r.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("       Normal │ %8d │ %8d │  (FP, TN)\n", r.FalsePositives, r.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")
	fmt.Printf("   Precision:  %.4f\n", r.Precision)
	fmt.Printf("   Recall:     %.4f\n", r.Recall)
	fmt.Printf("   F1-Score:   %.4f\n", r.F1)
	if r.Errors > 0 {
		fmt.Printf("   Errors:     %d ⚠️\n", r.Errors)
	}
}
