// Package stratum implements the client side of the Stratum V1 mining
// protocol for the GOSW solo worker: line-delimited JSON over plain TCP,
// subscribe/authorize handshake, notify ingestion, and share submission.
package stratum

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/bardlex/gosw/internal/bitcoin"
)

// Request IDs are fixed; the worker never has more than one request of each
// kind in flight.
const (
	SubscribeID = 1
	AuthorizeID = 2
	SubmitID    = 9
)

// Stratum method names
const (
	MethodSubscribe     = "mining.subscribe"
	MethodAuthorize     = "mining.authorize"
	MethodNotify        = "mining.notify"
	MethodSubmit        = "mining.submit"
	MethodSetDifficulty = "mining.set_difficulty"
)

// Message represents a Stratum JSON-RPC message
type Message struct {
	ID     any    `json:"id"`
	Method string `json:"method,omitempty"`
	Params []any  `json:"params,omitempty"`
	Result any    `json:"result,omitempty"`
	Error  any    `json:"error,omitempty"`
}

// ParseMessage parses one newline-delimited JSON line
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := sonic.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	return &msg, nil
}

// MarshalMessage marshals a message to one JSON line (without the newline)
func MarshalMessage(msg *Message) ([]byte, error) {
	data, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}

// IsNotification returns true if the message is a server-initiated notification
func (m *Message) IsNotification() bool {
	return m.Method != "" && m.ID == nil
}

// NewSubscribe builds the mining.subscribe request
func NewSubscribe() *Message {
	return &Message{ID: SubscribeID, Method: MethodSubscribe, Params: []any{}}
}

// NewAuthorize builds the mining.authorize request
func NewAuthorize(workerName, password string) *Message {
	return &Message{ID: AuthorizeID, Method: MethodAuthorize, Params: []any{workerName, password}}
}

// NewSubmit builds the mining.submit request for one share candidate
func NewSubmit(workerName string, share *bitcoin.ShareCandidate) *Message {
	return &Message{
		ID:     SubmitID,
		Method: MethodSubmit,
		Params: []any{workerName, share.JobID, share.Extranonce2, share.NTime, share.NonceHex()},
	}
}

// ParseSubscribeResult extracts extranonce1 and extranonce2_size from the
// mining.subscribe response result, a 3-tuple whose tail two entries carry
// the extranonce session context.
func ParseSubscribeResult(result any) (string, int, error) {
	tuple, ok := result.([]any)
	if !ok || len(tuple) < 3 {
		return "", 0, fmt.Errorf("subscribe result is not a 3-tuple")
	}

	extranonce1, ok := tuple[1].(string)
	if !ok || extranonce1 == "" {
		return "", 0, fmt.Errorf("subscribe result has no extranonce1")
	}

	var size int
	switch v := tuple[2].(type) {
	case float64:
		size = int(v)
	case int64:
		size = int(v)
	default:
		return "", 0, fmt.Errorf("subscribe result has no extranonce2_size")
	}
	if size <= 0 || size > 16 {
		return "", 0, fmt.Errorf("implausible extranonce2_size %d", size)
	}

	return extranonce1, size, nil
}

// ParseNotify converts mining.notify params into a Job. Params are
// [job_id, prevhash, coinb1, coinb2, merkle_branch[], version, nbits, ntime, clean_jobs].
func ParseNotify(params []any) (*bitcoin.Job, error) {
	if len(params) < 9 {
		return nil, fmt.Errorf("notify params: want 9 entries, got %d", len(params))
	}

	fields := make([]string, 0, 7)
	for _, idx := range []int{0, 1, 2, 3, 5, 6, 7} {
		s, ok := params[idx].(string)
		if !ok {
			return nil, fmt.Errorf("notify param %d is not a string", idx)
		}
		fields = append(fields, s)
	}

	rawBranch, ok := params[4].([]any)
	if !ok {
		return nil, fmt.Errorf("notify param 4 is not a merkle branch array")
	}
	branch := make([]string, 0, len(rawBranch))
	for i, el := range rawBranch {
		s, ok := el.(string)
		if !ok || len(s) != 64 {
			return nil, fmt.Errorf("merkle branch element %d is not a 32-byte hex digest", i)
		}
		branch = append(branch, s)
	}

	clean, _ := params[8].(bool)

	job := &bitcoin.Job{
		ID:           fields[0],
		PrevHash:     fields[1],
		Coinb1:       fields[2],
		Coinb2:       fields[3],
		MerkleBranch: branch,
		Version:      fields[4],
		NBits:        fields[5],
		NTime:        fields[6],
		CleanJobs:    clean,
	}

	if len(job.PrevHash) != 64 {
		return nil, fmt.Errorf("notify prevhash is not 32 bytes of hex")
	}
	for name, f := range map[string]string{"version": job.Version, "nbits": job.NBits, "ntime": job.NTime} {
		if len(f) != 8 {
			return nil, fmt.Errorf("notify %s is not 4 bytes of hex", name)
		}
	}

	return job, nil
}
