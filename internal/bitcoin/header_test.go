package bitcoin

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

// The serialized genesis coinbase transaction. Its dSHA256 is the genesis
// merkle root, which lets the full job -> header -> kernel pipeline be tested
// against real chain data: the test splits this hex into coinb1, extranonce1,
// extranonce2, and coinb2 the way a Stratum job would arrive.
const genesisCoinbaseTx = "01000000010000000000000000000000000000000000000000000000000000000000000000" +
	"ffffffff4d04ffff001d0104455468652054696d65732030332f4a616e2f32303039204368616e63656c6c6f72" +
	"206f6e206272696e6b206f66207365636f6e64206261696c6f757420666f722062616e6b73ffffffff0100f205" +
	"2a01000000434104678afdb0fe5548271967f1a67130b7105cd6a828e03909a67962e0ea1f61deb649f6bc3f4c" +
	"ef38c4f35504e51ec112de5c384df7ba0b8d578a4c702b6bf11d5fac00000000"

func genesisJob(tb testing.TB) (*Job, string, []byte) {
	tb.Helper()

	// Carve an 8-byte extranonce window out of the scriptSig text; the
	// reassembled coinbase is byte-identical to the original transaction.
	coinb1 := genesisCoinbaseTx[:120]
	extranonce1 := genesisCoinbaseTx[120:128]
	extranonce2Hex := genesisCoinbaseTx[128:136]
	coinb2 := genesisCoinbaseTx[136:]

	extranonce2, err := hex.DecodeString(extranonce2Hex)
	if err != nil {
		tb.Fatalf("bad extranonce2 slice: %v", err)
	}

	job := &Job{
		ID:           "gen0",
		PrevHash:     genesisPrevHash,
		Coinb1:       coinb1,
		Coinb2:       coinb2,
		MerkleBranch: nil,
		Version:      genesisVersion,
		NBits:        genesisNBits,
		NTime:        genesisNTime,
	}
	return job, extranonce1, extranonce2
}

func TestAssembleHeader_Genesis(t *testing.T) {
	header := genesisHeader(t)

	want, err := hex.DecodeString(genesisHeaderZeroNonce)
	if err != nil {
		t.Fatalf("bad header constant: %v", err)
	}
	if hex.EncodeToString(header[:]) != genesisHeaderZeroNonce {
		t.Errorf("AssembleHeader() = %x, want %x", header, want)
	}

	// The nonce slot must stay zero; the scan supplies nonces through the
	// kernel schedule, never by mutating the header.
	for i := 76; i < 80; i++ {
		if header[i] != 0 {
			t.Errorf("header[%d] = %#x, want 0", i, header[i])
		}
	}
}

func TestAssembleHeader_FieldValidation(t *testing.T) {
	merkle := genesisMerkleBytes(t)

	tests := []struct {
		name     string
		version  string
		prevhash string
		ntime    string
		nbits    string
	}{
		{"bad version hex", "zzzz0001", genesisPrevHash, genesisNTime, genesisNBits},
		{"short version", "0001", genesisPrevHash, genesisNTime, genesisNBits},
		{"short prevhash", "0000", genesisPrevHash[:8], genesisNTime, genesisNBits},
		{"bad ntime", genesisVersion, genesisPrevHash, "49", genesisNBits},
		{"bad nbits", genesisVersion, genesisPrevHash, genesisNTime, "1d00ff"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := AssembleHeader(tt.version, tt.prevhash, merkle, tt.ntime, tt.nbits); err == nil {
				t.Error("AssembleHeader() expected error")
			}
		})
	}
}

func TestBuildHeader_GenesisEndToEnd(t *testing.T) {
	job, en1, en2 := genesisJob(t)

	work, err := BuildHeader(job, en1, en2)
	if err != nil {
		t.Fatalf("BuildHeader() error: %v", err)
	}

	// Empty merkle branch: the coinbase hash is the merkle root directly, and
	// the genesis coinbase reassembles to the real genesis header.
	if hex.EncodeToString(work.Header[:]) != genesisHeaderZeroNonce {
		t.Fatalf("BuildHeader() header = %x, want %s", work.Header, genesisHeaderZeroNonce)
	}

	pass, hash := FinalRounds(&work.Mid, work.Tail, genesisNonce)
	if !pass {
		t.Fatal("genesis nonce rejected by prefilter")
	}
	if hex.EncodeToString(hash[:]) != genesisDigest {
		t.Errorf("digest = %x, want %s", hash, genesisDigest)
	}

	if work.JobID != "gen0" || work.NTime != genesisNTime {
		t.Errorf("work metadata = (%q, %q), want (gen0, %s)", work.JobID, work.NTime, genesisNTime)
	}
	if work.Extranonce2 != genesisCoinbaseTx[128:136] {
		t.Errorf("extranonce2 hex = %q, want %q", work.Extranonce2, genesisCoinbaseTx[128:136])
	}
}

func TestBuildHeader_MerkleBranchFold(t *testing.T) {
	job, en1, en2 := genesisJob(t)

	branch := sha256.Sum256([]byte("sibling"))
	job.MerkleBranch = []string{hex.EncodeToString(branch[:])}

	work, err := BuildHeader(job, en1, en2)
	if err != nil {
		t.Fatalf("BuildHeader() error: %v", err)
	}

	// Reference fold: dSHA256(coinbaseHash || branch) in internal order, then
	// display order for the pre-swap layout.
	coinbase, err := hex.DecodeString(genesisCoinbaseTx)
	if err != nil {
		t.Fatal(err)
	}
	h1 := sha256.Sum256(coinbase)
	cbHash := sha256.Sum256(h1[:])

	pair := append(cbHash[:], branch[:]...)
	f1 := sha256.Sum256(pair)
	root := sha256.Sum256(f1[:])

	// The header holds the root in internal order at [36..68) after the swap.
	for i := 0; i < 32; i++ {
		if work.Header[36+i] != root[i] {
			t.Fatalf("header merkle byte %d = %#x, want %#x", i, work.Header[36+i], root[i])
		}
	}
}

func TestBuildHeader_ExtranonceChangesMidstateNotTarget(t *testing.T) {
	job, en1, _ := genesisJob(t)

	workA, err := BuildHeader(job, en1, []byte{0x00, 0x00, 0x00, 0x01})
	if err != nil {
		t.Fatalf("BuildHeader() error: %v", err)
	}
	workB, err := BuildHeader(job, en1, []byte{0x00, 0x00, 0x00, 0x02})
	if err != nil {
		t.Fatalf("BuildHeader() error: %v", err)
	}

	if workA.Mid == workB.Mid {
		t.Error("different extranonce2 must produce a different midstate")
	}

	// The target depends only on nbits, which the rebuild does not touch.
	targetA, err := DecodeTarget(job.NBits)
	if err != nil {
		t.Fatal(err)
	}
	targetB, err := DecodeTarget(job.NBits)
	if err != nil {
		t.Fatal(err)
	}
	if targetA.Bytes() != targetB.Bytes() {
		t.Error("target must be unchanged across extranonce2 rebuilds")
	}
}

func TestBuildHeader_InvalidInputs(t *testing.T) {
	job, en1, en2 := genesisJob(t)

	t.Run("bad coinb1", func(t *testing.T) {
		bad := *job
		bad.Coinb1 = "xyz"
		if _, err := BuildHeader(&bad, en1, en2); err == nil {
			t.Error("expected error for invalid coinb1 hex")
		}
	})

	t.Run("bad branch element", func(t *testing.T) {
		bad := *job
		bad.MerkleBranch = []string{"deadbeef"}
		if _, err := BuildHeader(&bad, en1, en2); err == nil {
			t.Error("expected error for short merkle branch element")
		}
	})

	t.Run("bad extranonce1", func(t *testing.T) {
		if _, err := BuildHeader(job, "not-hex!", en2); err == nil {
			t.Error("expected error for invalid extranonce1 hex")
		}
	})
}

func TestRandomExtranonce2(t *testing.T) {
	en2, err := RandomExtranonce2(4)
	if err != nil {
		t.Fatalf("RandomExtranonce2() error: %v", err)
	}
	if len(en2) != 4 {
		t.Errorf("len = %d, want 4", len(en2))
	}

	if _, err := RandomExtranonce2(0); err == nil {
		t.Error("expected error for size 0")
	}
	if _, err := RandomExtranonce2(17); err == nil {
		t.Error("expected error for oversized extranonce2")
	}
}
