package bitcoin

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// coinbaseBufferPool reuses buffers for coinbase assembly. Header builds run
// once per job, not per nonce, but a busy swarm rebuilds on every notify.
var coinbaseBufferPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// HeaderWork is everything one scan pass needs: the swapped 80-byte header
// with a zeroed nonce slot, the midstate over its first block, the three
// header tail words the kernel consumes, and the submit-side job metadata.
type HeaderWork struct {
	Header      [80]byte
	Mid         Midstate
	Tail        [3]uint32
	JobID       string
	Extranonce2 string // hex
	NTime       string // hex
}

// RandomExtranonce2 draws a fresh extranonce2 of the session-negotiated size.
// Randomizing per job keeps restarted workers off each other's search space.
func RandomExtranonce2(size int) ([]byte, error) {
	if size <= 0 || size > 16 {
		return nil, fmt.Errorf("invalid extranonce2 size %d", size)
	}
	en2 := make([]byte, size)
	if _, err := rand.Read(en2); err != nil {
		return nil, fmt.Errorf("failed to draw extranonce2: %w", err)
	}
	return en2, nil
}

// BuildHeader converts a job plus the session extranonce context into scan
// work: coinbase hash, merkle fold, header assembly with the fixed byte-swap
// set, and the midstate over bytes [0..64).
//
// extranonce2 must be exactly the extranonce2_size the pool granted at
// subscribe; BuildHeader trusts the caller on that and only validates hex.
func BuildHeader(job *Job, extranonce1 string, extranonce2 []byte) (*HeaderWork, error) {
	root, err := merkleRoot(job, extranonce1, extranonce2)
	if err != nil {
		return nil, err
	}

	// The fold yields the root in internal byte order; AssembleHeader takes
	// display order and reverses the span, so flip once here.
	var display [32]byte
	for i := range display {
		display[i] = root[31-i]
	}

	header, err := AssembleHeader(job.Version, job.PrevHash, display, job.NTime, job.NBits)
	if err != nil {
		return nil, err
	}

	work := &HeaderWork{
		Header:      header,
		Mid:         NewMidstate(header[:64]),
		Tail:        headerTail(&header),
		JobID:       job.ID,
		Extranonce2: hex.EncodeToString(extranonce2),
		NTime:       job.NTime,
	}
	return work, nil
}

// merkleRoot hashes the assembled coinbase and folds in the merkle branch.
// With an empty branch the coinbase hash is the root directly.
func merkleRoot(job *Job, extranonce1 string, extranonce2 []byte) ([32]byte, error) {
	var root [32]byte

	buf := coinbaseBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer coinbaseBufferPool.Put(buf)

	for _, part := range []struct {
		name string
		hex  string
	}{
		{"coinb1", job.Coinb1},
		{"extranonce1", extranonce1},
	} {
		raw, err := hex.DecodeString(part.hex)
		if err != nil {
			return root, fmt.Errorf("invalid %s hex: %w", part.name, err)
		}
		buf.Write(raw)
	}
	buf.Write(extranonce2)
	coinb2, err := hex.DecodeString(job.Coinb2)
	if err != nil {
		return root, fmt.Errorf("invalid coinb2 hex: %w", err)
	}
	buf.Write(coinb2)

	copy(root[:], chainhash.DoubleHashB(buf.Bytes()))

	var pair [64]byte
	for i, branch := range job.MerkleBranch {
		raw, err := hex.DecodeString(branch)
		if err != nil || len(raw) != 32 {
			return root, fmt.Errorf("invalid merkle branch element %d", i)
		}
		copy(pair[:32], root[:])
		copy(pair[32:], raw)
		copy(root[:], chainhash.DoubleHashB(pair[:]))
	}

	return root, nil
}

// AssembleHeader lays out the 80 header bytes from the job's hex fields and a
// merkle root in display (big-endian) byte order, then applies the fixed swap
// set that puts every field into the word order the kernel consumes:
//
//	reverse [0..4)    version
//	reverse [36..68)  merkle root, display -> internal order
//	reverse [68..72)  ntime
//	reverse [72..76)  nbits
//
// The nonce slot [76..80) stays zero; the scan writes nonces there only
// implicitly, through the kernel's schedule word 3.
func AssembleHeader(versionHex, prevhashHex string, merkleDisplay [32]byte, ntimeHex, nbitsHex string) ([80]byte, error) {
	var header [80]byte

	for _, field := range []struct {
		name   string
		hex    string
		offset int
		size   int
	}{
		{"version", versionHex, 0, 4},
		{"prevhash", prevhashHex, 4, 32},
		{"ntime", ntimeHex, 68, 4},
		{"nbits", nbitsHex, 72, 4},
	} {
		raw, err := hex.DecodeString(field.hex)
		if err != nil {
			return header, fmt.Errorf("invalid %s hex: %w", field.name, err)
		}
		if len(raw) != field.size {
			return header, fmt.Errorf("%s must be %d bytes, got %d", field.name, field.size, len(raw))
		}
		copy(header[field.offset:], raw)
	}
	copy(header[36:68], merkleDisplay[:])

	reverseBytes(header[0:4])
	reverseBytes(header[36:68])
	reverseBytes(header[68:72])
	reverseBytes(header[72:76])

	return header, nil
}

// headerTail extracts the three big-endian words of bytes [64..76) that the
// kernel feeds into the second block ahead of the nonce.
func headerTail(header *[80]byte) [3]uint32 {
	return [3]uint32{
		uint32(header[64])<<24 | uint32(header[65])<<16 | uint32(header[66])<<8 | uint32(header[67]),
		uint32(header[68])<<24 | uint32(header[69])<<16 | uint32(header[70])<<8 | uint32(header[71]),
		uint32(header[72])<<24 | uint32(header[73])<<16 | uint32(header[74])<<8 | uint32(header[75]),
	}
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}
