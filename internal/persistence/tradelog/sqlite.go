package tradelog

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"embervale.gg/internal/sim/trade"
)

// SettlementIndex keeps a queryable record of executed settlements. Writes
// go through a single writer goroutine so the sim path never blocks on
// sqlite.
type SettlementIndex struct {
	db *sql.DB

	ch   chan trade.AuditEntry
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
}

const settlementSchema = `
CREATE TABLE IF NOT EXISTS settlements (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	trade_id TEXT NOT NULL,
	tick INTEGER NOT NULL,
	player1 TEXT NOT NULL,
	player2 TEXT NOT NULL,
	items1 TEXT NOT NULL,
	items2 TEXT NOT NULL,
	spark1 INTEGER NOT NULL,
	spark2 INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_settlements_trade ON settlements(trade_id);
CREATE INDEX IF NOT EXISTS idx_settlements_players ON settlements(player1, player2);
`

func OpenSettlementIndex(dataDir string) (*SettlementIndex, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}
	path := filepath.Join(dataDir, "trades.db")
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(settlementSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("settlements schema: %w", err)
	}
	idx := &SettlementIndex{db: db, ch: make(chan trade.AuditEntry, 256)}
	idx.wg.Add(1)
	go idx.writer()
	return idx, nil
}

// Audit enqueues SETTLE entries and ignores the rest. Drops on a full
// queue rather than stalling the sim.
func (x *SettlementIndex) Audit(e trade.AuditEntry) {
	if e.Type != "SETTLE" || x.closed.Load() {
		return
	}
	select {
	case x.ch <- e:
	default:
	}
}

func (x *SettlementIndex) writer() {
	defer x.wg.Done()
	for e := range x.ch {
		items1, _ := json.Marshal(e.Data["items1"])
		items2, _ := json.Marshal(e.Data["items2"])
		_, err := x.db.Exec(
			`INSERT INTO settlements (trade_id, tick, player1, player2, items1, items2, spark1, spark2, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.TradeID, int64(e.Tick),
			str(e.Data["player1"]), str(e.Data["player2"]),
			string(items1), string(items2),
			intval(e.Data["spark1"]), intval(e.Data["spark2"]),
			time.Now().UTC().Format(time.RFC3339),
		)
		if err != nil {
			// Index is best-effort; the zstd audit log is the durable record.
			continue
		}
	}
}

func (x *SettlementIndex) Close() error {
	x.once.Do(func() {
		x.closed.Store(true)
		close(x.ch)
	})
	x.wg.Wait()
	return x.db.Close()
}

type SettlementRow struct {
	TradeID string
	Tick    uint64
	Player1 string
	Player2 string
	Spark1  int
	Spark2  int
}

// RecentSettlements returns up to limit settlements, newest first.
func (x *SettlementIndex) RecentSettlements(limit int) ([]SettlementRow, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := x.db.Query(
		`SELECT trade_id, tick, player1, player2, spark1, spark2
		 FROM settlements ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SettlementRow
	for rows.Next() {
		var r SettlementRow
		var tick int64
		if err := rows.Scan(&r.TradeID, &tick, &r.Player1, &r.Player2, &r.Spark1, &r.Spark2); err != nil {
			return nil, err
		}
		r.Tick = uint64(tick)
		out = append(out, r)
	}
	return out, rows.Err()
}

func str(v any) string {
	s, _ := v.(string)
	return s
}

func intval(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	}
	return 0
}

// Recorder fans audit entries out to the JSONL log and the settlement
// index; it is what the server wires into the trade service.
type Recorder struct {
	log *Writer
	idx *SettlementIndex
}

func NewRecorder(log *Writer, idx *SettlementIndex) *Recorder {
	return &Recorder{log: log, idx: idx}
}

func (r *Recorder) Audit(e trade.AuditEntry) {
	if r.log != nil {
		r.log.Audit(e)
	}
	if r.idx != nil {
		r.idx.Audit(e)
	}
}
