package sink

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/opensource-finance/osprey-sim/internal/domain"
)

var transactionHeader = []string{
	"id", "step", "type", "amount",
	"orig_id", "bene_id", "orig_balance", "bene_balance",
	"is_sar", "alert_id",
}

// CSV writes the transaction log as rows are generated and the per-step
// counter log when closed.
type CSV struct {
	txFile  *os.File
	tx      *csv.Writer
	counter string
	counts  []int64
	sar     []int64
}

// NewCSV creates <dir>/<name>/ and opens the transaction log in it.
// An empty counter log name disables the counter log.
func NewCSV(cfg domain.OutputConfig, name string, totalSteps int64) (*CSV, error) {
	dir := filepath.Join(cfg.Directory, name)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	txLog := cfg.TransactionLog
	if txLog == "" {
		txLog = "tx_log.csv"
	}
	f, err := os.Create(filepath.Join(dir, txLog))
	if err != nil {
		return nil, fmt.Errorf("failed to create transaction log: %w", err)
	}

	w := csv.NewWriter(f)
	if err := w.Write(transactionHeader); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	c := &CSV{
		txFile: f,
		tx:     w,
		counts: make([]int64, max(totalSteps, 0)),
		sar:    make([]int64, max(totalSteps, 0)),
	}
	if cfg.CounterLog != "" {
		c.counter = filepath.Join(dir, cfg.CounterLog)
	}
	return c, nil
}

// Write appends the batch to the transaction log and flushes it.
func (c *CSV) Write(_ context.Context, txs []domain.Transaction) error {
	for i := range txs {
		tx := &txs[i]
		if err := c.tx.Write(transactionRecord(tx)); err != nil {
			return fmt.Errorf("failed to write transaction %d: %w", tx.ID, err)
		}
		if tx.Step >= 0 && tx.Step < int64(len(c.counts)) {
			c.counts[tx.Step]++
			if tx.IsSAR {
				c.sar[tx.Step]++
			}
		}
	}
	c.tx.Flush()
	return c.tx.Error()
}

// Close flushes the transaction log and writes the counter log, one row per step.
func (c *CSV) Close() error {
	c.tx.Flush()
	if err := c.tx.Error(); err != nil {
		c.txFile.Close()
		return err
	}
	if err := c.txFile.Close(); err != nil {
		return err
	}
	if c.counter == "" {
		return nil
	}
	return c.writeCounterLog()
}

func (c *CSV) writeCounterLog() error {
	f, err := os.Create(c.counter)
	if err != nil {
		return fmt.Errorf("failed to create counter log: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write([]string{"step", "transactions", "sar_transactions"}); err != nil {
		return err
	}
	for step, n := range c.counts {
		if err := w.Write([]string{
			strconv.Itoa(step),
			strconv.FormatInt(n, 10),
			strconv.FormatInt(c.sar[step], 10),
		}); err != nil {
			return err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}
	return f.Close()
}

func transactionRecord(tx *domain.Transaction) []string {
	return []string{
		strconv.FormatInt(tx.ID, 10),
		strconv.FormatInt(tx.Step, 10),
		tx.Type,
		strconv.FormatFloat(tx.Amount, 'f', 2, 64),
		tx.OrigID,
		tx.BeneID,
		strconv.FormatFloat(tx.OrigBalance, 'f', 2, 64),
		strconv.FormatFloat(tx.BeneBalance, 'f', 2, 64),
		strconv.FormatBool(tx.IsSAR),
		strconv.FormatInt(tx.AlertID, 10),
	}
}
