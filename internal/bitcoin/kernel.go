// Package bitcoin provides the proof-of-work primitives for the GOSW solo
// worker: the double SHA-256 nonce kernel with midstate reuse, Stratum job to
// block-header assembly, and compact-target expansion.
package bitcoin

import (
	"encoding/binary"
	"math/bits"
)

// SHA-256 round constants
var sha256K = [64]uint32{
	0x428a2f98, 0x71374491, 0xb5c0fbcf, 0xe9b5dba5, 0x3956c25b, 0x59f111f1, 0x923f82a4, 0xab1c5ed5,
	0xd807aa98, 0x12835b01, 0x243185be, 0x550c7dc3, 0x72be5d74, 0x80deb1fe, 0x9bdc06a7, 0xc19bf174,
	0xe49b69c1, 0xefbe4786, 0x0fc19dc6, 0x240ca1cc, 0x2de92c6f, 0x4a7484aa, 0x5cb0a9dc, 0x76f988da,
	0x983e5152, 0xa831c66d, 0xb00327c8, 0xbf597fc7, 0xc6e00bf3, 0xd5a79147, 0x06ca6351, 0x14292967,
	0x27b70a85, 0x2e1b2138, 0x4d2c6dfc, 0x53380d13, 0x650a7354, 0x766a0abb, 0x81c2c92e, 0x92722c85,
	0xa2bfe8a1, 0xa81a664b, 0xc24b8b70, 0xc76c51a3, 0xd192e819, 0xd6990624, 0xf40e3585, 0x106aa070,
	0x19a4c116, 0x1e376c08, 0x2748774c, 0x34b0bcb5, 0x391c0cb3, 0x4ed8aa4a, 0x5b9cca4f, 0x682e6ff3,
	0x748f82ee, 0x78a5636f, 0x84c87814, 0x8cc70208, 0x90befffa, 0xa4506ceb, 0xbef9a3f7, 0xc67178f2,
}

// SHA-256 initial hash values
const (
	sha256IV0 = 0x6a09e667
	sha256IV1 = 0xbb67ae85
	sha256IV2 = 0x3c6ef372
	sha256IV3 = 0xa54ff53a
	sha256IV4 = 0x510e527f
	sha256IV5 = 0x9b05688c
	sha256IV6 = 0x1f83d9ab
	sha256IV7 = 0x5be0cd19
)

// Midstate is the SHA-256 chaining state after compressing the first 64 bytes
// of the 80-byte block header. It is valid only for the header it was derived
// from and is reused for every nonce of one scan pass.
type Midstate [8]uint32

func smallSig0(x uint32) uint32 {
	return bits.RotateLeft32(x, -7) ^ bits.RotateLeft32(x, -18) ^ (x >> 3)
}

func smallSig1(x uint32) uint32 {
	return bits.RotateLeft32(x, -17) ^ bits.RotateLeft32(x, -19) ^ (x >> 10)
}

func bigSig0(x uint32) uint32 {
	return bits.RotateLeft32(x, -2) ^ bits.RotateLeft32(x, -13) ^ bits.RotateLeft32(x, -22)
}

func bigSig1(x uint32) uint32 {
	return bits.RotateLeft32(x, -6) ^ bits.RotateLeft32(x, -11) ^ bits.RotateLeft32(x, -25)
}

func ch(x, y, z uint32) uint32 {
	return (x & y) ^ (^x & z)
}

func maj(x, y, z uint32) uint32 {
	return (x & y) ^ (x & z) ^ (y & z)
}

// compress applies one SHA-256 compression of a 16-word block to state.
func compress(state *[8]uint32, block *[16]uint32) {
	var w [64]uint32
	copy(w[:16], block[:])
	for i := 16; i < 64; i++ {
		w[i] = smallSig1(w[i-2]) + w[i-7] + smallSig0(w[i-15]) + w[i-16]
	}

	a, b, c, d := state[0], state[1], state[2], state[3]
	e, f, g, h := state[4], state[5], state[6], state[7]

	for i := 0; i < 64; i++ {
		t1 := h + bigSig1(e) + ch(e, f, g) + sha256K[i] + w[i]
		t2 := bigSig0(a) + maj(a, b, c)
		h, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+t2
	}

	state[0] += a
	state[1] += b
	state[2] += c
	state[3] += d
	state[4] += e
	state[5] += f
	state[6] += g
	state[7] += h
}

// NewMidstate compresses the first 64 header bytes with the standard IV.
// The header must already be in the swapped layout produced by BuildHeader.
func NewMidstate(header64 []byte) Midstate {
	state := [8]uint32{
		sha256IV0, sha256IV1, sha256IV2, sha256IV3,
		sha256IV4, sha256IV5, sha256IV6, sha256IV7,
	}

	var block [16]uint32
	for i := 0; i < 16; i++ {
		block[i] = binary.BigEndian.Uint32(header64[i*4:])
	}

	compress(&state, &block)
	return Midstate(state)
}

// FinalRounds completes the double SHA-256 of an 80-byte header for one nonce.
//
// mid is the midstate over header bytes [0..64). tail holds the three
// big-endian words of header bytes [64..76) (merkle tail, ntime, nbits) and
// nonce is the conventional header nonce, byte-swapped into schedule word 3 so
// that the digest equals dSHA256 of the header with the nonce serialized
// little-endian at bytes [76..80).
//
// The second hash stops after round 60: at that point the digest's last word
// is already fixed as sha256IV7 plus the rolling e register, so a nonce that
// cannot reach even a 16-bit half-share is rejected without the final three
// rounds or any byte output. The prefilter is exact: it passes if and only if
// the last 16 bits of the full digest are zero.
//
// Pure and allocation-free.
func FinalRounds(mid *Midstate, tail [3]uint32, nonce uint32) (bool, [32]byte) {
	var hash [32]byte

	// First hash, second block: 16 bytes of header data plus padding and the
	// 640-bit length field.
	var w [64]uint32
	w[0] = tail[0]
	w[1] = tail[1]
	w[2] = tail[2]
	w[3] = bits.ReverseBytes32(nonce)
	w[4] = 0x80000000
	w[15] = 0x00000280
	for i := 16; i < 64; i++ {
		w[i] = smallSig1(w[i-2]) + w[i-7] + smallSig0(w[i-15]) + w[i-16]
	}

	a, b, c, d := mid[0], mid[1], mid[2], mid[3]
	e, f, g, h := mid[4], mid[5], mid[6], mid[7]

	for i := 0; i < 64; i++ {
		t1 := h + bigSig1(e) + ch(e, f, g) + sha256K[i] + w[i]
		t2 := bigSig0(a) + maj(a, b, c)
		h, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+t2
	}

	// Second hash: the first digest padded to one block with the 256-bit
	// length field.
	var w2 [64]uint32
	w2[0] = mid[0] + a
	w2[1] = mid[1] + b
	w2[2] = mid[2] + c
	w2[3] = mid[3] + d
	w2[4] = mid[4] + e
	w2[5] = mid[5] + f
	w2[6] = mid[6] + g
	w2[7] = mid[7] + h
	w2[8] = 0x80000000
	w2[15] = 0x00000100
	for i := 16; i < 61; i++ {
		w2[i] = smallSig1(w2[i-2]) + w2[i-7] + smallSig0(w2[i-15]) + w2[i-16]
	}

	a, b, c, d = sha256IV0, sha256IV1, sha256IV2, sha256IV3
	e, f, g, h = sha256IV4, sha256IV5, sha256IV6, sha256IV7

	for i := 0; i < 61; i++ {
		t1 := h + bigSig1(e) + ch(e, f, g) + sha256K[i] + w2[i]
		t2 := bigSig0(a) + maj(a, b, c)
		h, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+t2
	}

	// Rounds 61-63 only rotate e into the final h register, so the digest's
	// last word is already determined here.
	finalH := uint32(sha256IV7) + e
	if finalH&0x0000FFFF != 0 {
		return false, hash
	}

	for i := 61; i < 64; i++ {
		w2[i] = smallSig1(w2[i-2]) + w2[i-7] + smallSig0(w2[i-15]) + w2[i-16]
		t1 := h + bigSig1(e) + ch(e, f, g) + sha256K[i] + w2[i]
		t2 := bigSig0(a) + maj(a, b, c)
		h, g, f, e, d, c, b, a = g, f, e, d+t1, c, b, a, t1+t2
	}

	binary.BigEndian.PutUint32(hash[0:], sha256IV0+a)
	binary.BigEndian.PutUint32(hash[4:], sha256IV1+b)
	binary.BigEndian.PutUint32(hash[8:], sha256IV2+c)
	binary.BigEndian.PutUint32(hash[12:], sha256IV3+d)
	binary.BigEndian.PutUint32(hash[16:], sha256IV4+e)
	binary.BigEndian.PutUint32(hash[20:], sha256IV5+f)
	binary.BigEndian.PutUint32(hash[24:], sha256IV6+g)
	binary.BigEndian.PutUint32(hash[28:], finalH)

	return true, hash
}
