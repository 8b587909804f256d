package messaging

import "time"

// ShareFoundEvent is emitted for every share handed to the pool
type ShareFoundEvent struct {
	Worker      int       `json:"worker"`
	JobID       string    `json:"job_id"`
	Extranonce2 string    `json:"extranonce2"`
	NTime       string    `json:"ntime"`
	Nonce       string    `json:"nonce"`
	Class       string    `json:"class"`
	Digest      string    `json:"digest"`
	FoundAt     time.Time `json:"found_at"`
}

// BlockFoundEvent is emitted when a share meets the full network target
type BlockFoundEvent struct {
	Worker    int       `json:"worker"`
	JobID     string    `json:"job_id"`
	BlockHash string    `json:"block_hash"`
	Nonce     string    `json:"nonce"`
	FoundAt   time.Time `json:"found_at"`
}

// WorkerStatsEvent carries one worker process's counter snapshot
type WorkerStatsEvent struct {
	Instance   string    `json:"instance"`
	Templates  int64     `json:"templates"`
	Hashes     int64     `json:"hashes"`
	HalfShares int64     `json:"half_shares"`
	Shares     int64     `json:"shares"`
	Valids     int64     `json:"valids"`
	Hashrate   float64   `json:"hashrate"`
	Uptime     float64   `json:"uptime_seconds"`
	SnappedAt  time.Time `json:"snapped_at"`
}
