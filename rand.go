package osl

import (
	"encoding/binary"
	"time"

	"golang.org/x/crypto/chacha20"
)

// RandomSeed fills buf with seed material for the engine's randomness.
// The buffer is zeroed first so the only entropy is the clock written
// into the leading bytes; that keeps test runs repeatable, and the
// engine layers additional entropy on top.
func RandomSeed(buf *[256]byte) {
	clear(buf[:])
	binary.LittleEndian.PutUint64(buf[:8], uint64(time.Now().UnixNano()))
}

var (
	// +checklocks:mutex
	randomness func([]byte)
	// +checklocks:mutex
	prng *chacha20.Cipher
)

// SetRandomness installs the engine's randomness source, replacing the
// built-in generator. Passing nil restores the built-in one.
func SetRandomness(f func([]byte)) {
	EnterMutex()
	defer LeaveMutex()
	randomness = f
}

// randomFill produces random bytes for shared lock byte selection and
// temporary file names. The built-in generator is a ChaCha20 stream
// keyed from the seed, constructed on first use.
func randomFill(p []byte) {
	EnterMutex()
	defer LeaveMutex()
	if randomness != nil {
		randomness(p)
		return
	}
	if prng == nil {
		var seed [256]byte
		RandomSeed(&seed)
		var nonce [chacha20.NonceSize]byte
		c, err := chacha20.NewUnauthenticatedCipher(seed[:chacha20.KeySize], nonce[:])
		if err != nil {
			// The key and nonce sizes are correct by construction.
			panic(err)
		}
		prng = c
	}
	clear(p)
	prng.XORKeyStream(p, p)
}
