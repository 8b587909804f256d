package miner

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/bardlex/gosw/internal/bitcoin"
	"github.com/bardlex/gosw/internal/messaging"
	"github.com/bardlex/gosw/pkg/log"
)

// shareSink is the write half of the pool connection
type shareSink interface {
	Submit(*bitcoin.ShareCandidate) error
}

// submitter drains the share queue and performs exactly one pool write per
// candidate, keeping all network latency off the scan loop. It exits when the
// engine closes the queue, which always happens before the socket closes.
type submitter struct {
	id     int
	sink   shareSink
	events *messaging.Publisher
	logger *log.Logger
}

func (s *submitter) run(ctx context.Context, queue <-chan *bitcoin.ShareCandidate) {
	for share := range queue {
		if err := s.sink.Submit(share); err != nil {
			// The session is dying; keep draining so the miner never blocks
			// on a Valid enqueue during teardown.
			s.logger.WithError(err).Warn("share submit failed",
				"job_id", share.JobID, "nonce", share.NonceHex())
			continue
		}

		s.publishEvents(ctx, share)
	}
}

func (s *submitter) publishEvents(ctx context.Context, share *bitcoin.ShareCandidate) {
	now := time.Now()

	event := &messaging.ShareFoundEvent{
		Worker:      s.id,
		JobID:       share.JobID,
		Extranonce2: share.Extranonce2,
		NTime:       share.NTime,
		Nonce:       share.NonceHex(),
		Class:       share.Class.String(),
		Digest:      hex.EncodeToString(share.Hash[:]),
		FoundAt:     now,
	}
	if err := s.events.PublishShareFound(ctx, event); err != nil {
		s.logger.WithError(err).Warn("share event publish failed")
	}

	if share.Class != bitcoin.ClassValid {
		return
	}

	// Display order: the digest reversed, the hash explorers show.
	var display [32]byte
	for i := range display {
		display[i] = share.Hash[31-i]
	}
	blockEvent := &messaging.BlockFoundEvent{
		Worker:    s.id,
		JobID:     share.JobID,
		BlockHash: hex.EncodeToString(display[:]),
		Nonce:     share.NonceHex(),
		FoundAt:   now,
	}
	if err := s.events.PublishBlockFound(ctx, blockEvent); err != nil {
		s.logger.WithError(err).Warn("block event publish failed")
	}
}
