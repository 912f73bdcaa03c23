package recorder

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"survivald/internal/model"
)

// SQLiteRecorder persists engine history to a SQLite database.
type SQLiteRecorder struct {
	db *sql.DB
	mu sync.Mutex
}

// NewSQLiteRecorder opens (or creates) the database and runs migrations.
func NewSQLiteRecorder(dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// WAL mode so external monitoring can read while the engine writes.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	r := &SQLiteRecorder{db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logrus.Infof("sqlite recorder opened: %s", dbPath)
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS balance_history (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			primary_amount REAL,
			stable_amount  REAL,
			total_usd      REAL,
			credit         REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_balance_ts ON balance_history(timestamp)`,

		`CREATE TABLE IF NOT EXISTS tier_transitions (
			id           INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp    INTEGER NOT NULL,
			from_tier    TEXT,
			to_tier      TEXT,
			credit       REAL,
			treasury_usd REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tier_ts ON tier_transitions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS work_results (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp      INTEGER NOT NULL,
			opportunity_id TEXT,
			category       TEXT,
			success        INTEGER,
			earned_usd     REAL,
			minutes_spent  REAL,
			failure_reason TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_work_ts ON work_results(timestamp)`,

		`CREATE TABLE IF NOT EXISTS distributions (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp       INTEGER NOT NULL,
			to_creator_usd  REAL,
			to_compound_usd REAL,
			receipt_id      TEXT,
			success         INTEGER,
			note            TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_dist_ts ON distributions(timestamp)`,

		`CREATE TABLE IF NOT EXISTS distress_events (
			id                INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp         INTEGER NOT NULL,
			tier              TEXT,
			consecutive_ticks INTEGER,
			message           TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_distress_ts ON distress_events(timestamp)`,

		`CREATE TABLE IF NOT EXISTS metrics_snapshots (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp        INTEGER NOT NULL,
			total_trades     INTEGER,
			wins             INTEGER,
			losses           INTEGER,
			net_profit_usd   REAL,
			sharpe_ratio     REAL,
			total_earned_usd REAL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metrics_ts ON metrics_snapshots(timestamp)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return fmt.Errorf("exec %q: %w", s[:40], err)
		}
	}
	return nil
}

func (r *SQLiteRecorder) RecordBalance(evt *BalanceEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO balance_history
		(timestamp, primary_amount, stable_amount, total_usd, credit)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), evt.PrimaryAmount, evt.StableAmount, evt.TotalValueUSD, evt.Credit,
	)
	return err
}

func (r *SQLiteRecorder) RecordTierTransition(evt *TierTransition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO tier_transitions
		(timestamp, from_tier, to_tier, credit, treasury_usd)
		VALUES (?,?,?,?,?)`,
		time.Now().Unix(), string(evt.From), string(evt.To), evt.Credit, evt.TreasuryUSD,
	)
	return err
}

func (r *SQLiteRecorder) RecordWork(res *model.WorkResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	success := 0
	if res.Success {
		success = 1
	}
	_, err := r.db.Exec(`INSERT INTO work_results
		(timestamp, opportunity_id, category, success, earned_usd, minutes_spent, failure_reason)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), res.OpportunityID, string(res.Category),
		success, res.EarnedUSD, res.TimeSpentMinutes, res.FailureReason,
	)
	return err
}

func (r *SQLiteRecorder) RecordDistribution(evt *DistributionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	success := 0
	if evt.Success {
		success = 1
	}
	_, err := r.db.Exec(`INSERT INTO distributions
		(timestamp, to_creator_usd, to_compound_usd, receipt_id, success, note)
		VALUES (?,?,?,?,?,?)`,
		time.Now().Unix(), evt.ToCreatorUSD, evt.ToCompoundUSD,
		evt.ReceiptID, success, evt.Note,
	)
	return err
}

func (r *SQLiteRecorder) RecordDistress(evt *DistressEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO distress_events
		(timestamp, tier, consecutive_ticks, message)
		VALUES (?,?,?,?)`,
		time.Now().Unix(), string(evt.Tier), evt.ConsecutiveTicks, evt.Message,
	)
	return err
}

func (r *SQLiteRecorder) RecordMetricsSnapshot(snap *MetricsSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := snap.Metrics
	_, err := r.db.Exec(`INSERT INTO metrics_snapshots
		(timestamp, total_trades, wins, losses, net_profit_usd, sharpe_ratio, total_earned_usd)
		VALUES (?,?,?,?,?,?,?)`,
		time.Now().Unix(), m.TotalTrades, m.Wins, m.Losses,
		m.NetProfitUSD, m.SharpeRatio, snap.TotalEarnedUSD,
	)
	return err
}

func (r *SQLiteRecorder) Close() error {
	logrus.Info("closing sqlite recorder")
	return r.db.Close()
}
