package stratum

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/bardlex/gosw/internal/bitcoin"
	"github.com/bardlex/gosw/pkg/errors"
	"github.com/bardlex/gosw/pkg/log"
)

const (
	// connectBackoff is the pause between failed dial attempts
	connectBackoff = 5 * time.Second
	// DefaultIOTimeout bounds every socket read and write
	DefaultIOTimeout = 10 * time.Second
)

// Client is a Stratum V1 pool connection for one worker.
//
// Socket access is partitioned in time, never locked: the miner goroutine
// owns reads (handshake, NextJob between scans) and the submitter goroutine
// owns writes (Submit). The submitter is always stopped before Close.
type Client struct {
	host       string
	port       int
	workerName string
	password   string
	ioTimeout  time.Duration
	logger     *log.Logger

	conn   net.Conn
	reader *bufio.Reader

	// Session extranonce context, valid from Handshake until Close
	Extranonce1     string
	Extranonce2Size int
}

// NewClient creates an unconnected pool client. ioTimeout bounds every socket
// read and write; zero selects the default.
func NewClient(host string, port int, workerName, password string, ioTimeout time.Duration, logger *log.Logger) *Client {
	if ioTimeout <= 0 {
		ioTimeout = DefaultIOTimeout
	}
	return &Client{
		host:       host,
		port:       port,
		workerName: workerName,
		password:   password,
		ioTimeout:  ioTimeout,
		logger:     logger.WithComponent("stratum"),
	}
}

// Connect dials the pool, retrying on a 5-second backoff until it succeeds or
// the context is canceled. TCP_NODELAY is enabled so submits go out in their
// own segments.
func (c *Client) Connect(ctx context.Context) error {
	addr := net.JoinHostPort(c.host, fmt.Sprintf("%d", c.port))

	for {
		dialer := &net.Dialer{Timeout: c.ioTimeout}
		conn, err := dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			if tcp, ok := conn.(*net.TCPConn); ok {
				if err := tcp.SetNoDelay(true); err != nil {
					c.logger.WithError(err).Warn("failed to set TCP_NODELAY")
				}
			}
			c.conn = conn
			c.reader = bufio.NewReaderSize(conn, 4096)
			c.logger.LogConnection("connected", conn.RemoteAddr().String())
			return nil
		}

		c.logger.WithError(err).Warn("pool dial failed, backing off", "addr", addr)

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), errors.ErrorTypeNetwork, "pool_connect",
				"connect canceled").WithContext("addr", addr)
		case <-time.After(connectBackoff):
		}
	}
}

// Handshake performs subscribe and authorize and captures the extranonce
// session context. The authorize reply (typically followed or preceded by a
// difficulty line) is read and discarded; the worker mines at the share
// thresholds regardless of pool difficulty.
func (c *Client) Handshake() error {
	if err := c.writeMessage(NewSubscribe()); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "handshake", "subscribe write failed")
	}

	line, err := c.readLine()
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "handshake", "subscribe read failed")
	}

	msg, err := ParseMessage(line)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeProtocol, "handshake", "subscribe response is not JSON")
	}

	extranonce1, size, err := ParseSubscribeResult(msg.Result)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeProtocol, "handshake", "bad subscribe result")
	}
	c.Extranonce1 = extranonce1
	c.Extranonce2Size = size

	if err := c.writeMessage(NewAuthorize(c.workerName, c.password)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "handshake", "authorize write failed")
	}

	// Swallow one line: the authorize reply or the initial difficulty push.
	if _, err := c.readLine(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "handshake", "authorize read failed")
	}

	c.logger.Info("handshake complete",
		"extranonce1", c.Extranonce1,
		"extranonce2_size", c.Extranonce2Size,
	)
	return nil
}

// NextJob reads one line from the pool and returns the parsed job if the line
// is a mining.notify. Any other line - difficulty updates, submit replies,
// malformed JSON - is consumed and reported as "no job this read" (nil, nil).
// A read deadline expiring is also non-fatal: quiet pools simply have no job
// yet. Socket errors are fatal and end the session.
func (c *Client) NextJob() (*bitcoin.Job, error) {
	line, err := c.readLine()
	if err != nil {
		if isTimeout(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, errors.ErrorTypeNetwork, "next_job", "pool read failed")
	}

	msg, err := ParseMessage(line)
	if err != nil {
		c.logger.WithError(err).Debug("skipping unparseable line")
		return nil, nil
	}

	if msg.Method != MethodNotify {
		c.logger.LogStratumMessage("ignored", string(line))
		return nil, nil
	}

	job, err := ParseNotify(msg.Params)
	if err != nil {
		c.logger.WithError(err).Warn("malformed mining.notify, skipping")
		return nil, nil
	}

	c.logger.WithJob(job.ID).Debug("job received", "clean_jobs", job.CleanJobs)
	return job, nil
}

// Submit serializes one share candidate and writes it as a single line.
// Called only from the submitter goroutine; fire-and-forget, the pool's reply
// surfaces later as an ignored line in NextJob.
func (c *Client) Submit(share *bitcoin.ShareCandidate) error {
	if err := c.writeMessage(NewSubmit(c.workerName, share)); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "submit", "share write failed").
			WithContext("job_id", share.JobID).
			WithContext("nonce", share.NonceHex())
	}

	c.logger.LogShareSubmission(share.JobID, share.Extranonce2, share.NTime,
		share.NonceHex(), share.Class.String())
	return nil
}

// Connected reports whether the client still holds an open socket
func (c *Client) Connected() bool {
	return c.conn != nil
}

// Alive probes the connection without consuming data: a one-millisecond Peek
// that times out means the pool is quiet but reachable, while EOF or a reset
// means the session is dead. Buffered notify lines stay buffered for the next
// NextJob. Called from the miner goroutine only, between scan batches.
func (c *Client) Alive() bool {
	if c.conn == nil {
		return false
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return false
	}
	if _, err := c.reader.Peek(1); err != nil && !isTimeout(err) {
		return false
	}
	return true
}

// Close tears down the socket. The caller must have stopped the submitter
// first; Close is not safe to race with Submit.
func (c *Client) Close() {
	if c.conn != nil {
		if err := c.conn.Close(); err != nil {
			c.logger.WithError(err).Debug("socket close failed")
		}
		c.conn = nil
		c.reader = nil
	}
	c.Extranonce1 = ""
	c.Extranonce2Size = 0
}

func (c *Client) readLine() ([]byte, error) {
	if c.conn == nil {
		return nil, fmt.Errorf("not connected")
	}
	if err := c.conn.SetReadDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return nil, err
	}
	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return nil, err
	}
	c.logger.LogStratumMessage("received", string(line[:len(line)-1]))
	return line, nil
}

func (c *Client) writeMessage(msg *Message) error {
	if c.conn == nil {
		return fmt.Errorf("not connected")
	}
	data, err := MarshalMessage(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	if err := c.conn.SetWriteDeadline(time.Now().Add(c.ioTimeout)); err != nil {
		return err
	}
	if _, err := c.conn.Write(data); err != nil {
		return err
	}
	c.logger.LogStratumMessage("sent", string(data[:len(data)-1]))
	return nil
}

func isTimeout(err error) bool {
	return os.IsTimeout(err)
}
