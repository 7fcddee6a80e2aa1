package osl_test

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/ncruces/go-osl"
	"github.com/ncruces/go-osl/memosl"
)

// The regimes every protocol test should hold under.
var testHosts = map[string]memosl.Host{
	"modern": {},
	"legacy": {Legacy: true},
}

func openFile(t testing.TB, h memosl.Host, name string) osl.File {
	t.Helper()
	fd, readonly, err := h.OpenReadWrite(name)
	require.NoError(t, err)
	require.False(t, readonly)
	t.Cleanup(func() { fd.Close() })
	return fd
}

func TestLock_ladder(t *testing.T) {
	for regime, host := range testHosts {
		t.Run(regime, func(t *testing.T) {
			name := memosl.TestFilename(t)
			fd := openFile(t, host, name)

			ladder := []osl.LockLevel{
				osl.LOCK_SHARED,
				osl.LOCK_RESERVED,
				osl.LOCK_PENDING,
				osl.LOCK_EXCLUSIVE,
			}
			for _, lvl := range ladder {
				require.NoError(t, fd.Lock(lvl))
				require.Equal(t, lvl, fd.LockState())
			}

			// Requests at or below the current level are no-ops.
			require.NoError(t, fd.Lock(osl.LOCK_SHARED))
			require.Equal(t, osl.LOCK_EXCLUSIVE, fd.LockState())

			require.NoError(t, fd.Unlock())
			require.Equal(t, osl.LOCK_NONE, fd.LockState())
		})
	}
}

func TestLock_unlockRelock(t *testing.T) {
	for regime, host := range testHosts {
		t.Run(regime, func(t *testing.T) {
			name := memosl.TestFilename(t)
			fd := openFile(t, host, name)

			for range 10 {
				require.NoError(t, fd.Lock(osl.LOCK_SHARED))
				require.NoError(t, fd.Unlock())
			}
		})
	}
}

func TestLock_sharedReaders(t *testing.T) {
	// S1: two descriptors both reach SHARED.
	name := memosl.TestFilename(t)
	a := openFile(t, memosl.Host{}, name)
	b := openFile(t, memosl.Host{}, name)

	require.NoError(t, a.Lock(osl.LOCK_SHARED))
	require.NoError(t, b.Lock(osl.LOCK_SHARED))
}

func TestLock_reservedExcludesReserved(t *testing.T) {
	// S2: only one descriptor may announce write intent.
	name := memosl.TestFilename(t)
	a := openFile(t, memosl.Host{}, name)
	b := openFile(t, memosl.Host{}, name)

	require.NoError(t, a.Lock(osl.LOCK_SHARED))
	require.NoError(t, b.Lock(osl.LOCK_SHARED))
	require.NoError(t, a.Lock(osl.LOCK_RESERVED))
	require.ErrorIs(t, b.Lock(osl.LOCK_RESERVED), osl.BUSY)

	// RESERVED does not evict the reader.
	require.Equal(t, osl.LOCK_SHARED, b.LockState())
}

func TestLock_exclusivePromotion(t *testing.T) {
	// S3: promotion is BUSY while a reader remains, and a BUSY
	// promotion forfeits every lock: the caller unlocks and reclimbs.
	name := memosl.TestFilename(t)
	a := openFile(t, memosl.Host{}, name)
	b := openFile(t, memosl.Host{}, name)

	require.NoError(t, a.Lock(osl.LOCK_SHARED))
	require.NoError(t, b.Lock(osl.LOCK_SHARED))
	require.NoError(t, a.Lock(osl.LOCK_RESERVED))
	require.NoError(t, a.Lock(osl.LOCK_PENDING))
	require.ErrorIs(t, a.Lock(osl.LOCK_EXCLUSIVE), osl.BUSY)

	require.NoError(t, b.Unlock())
	require.NoError(t, a.Unlock())
	for _, lvl := range []osl.LockLevel{
		osl.LOCK_SHARED,
		osl.LOCK_RESERVED,
		osl.LOCK_PENDING,
		osl.LOCK_EXCLUSIVE,
	} {
		require.NoError(t, a.Lock(lvl))
	}
	require.Equal(t, osl.LOCK_EXCLUSIVE, a.LockState())
}

func TestLock_pendingGatesNewReaders(t *testing.T) {
	// A writer at PENDING freezes reader admission: a newcomer's
	// SHARED request must first take the PENDING byte and cannot.
	name := memosl.TestFilename(t)
	a := openFile(t, memosl.Host{}, name)
	b := openFile(t, memosl.Host{}, name)

	require.NoError(t, a.Lock(osl.LOCK_SHARED))
	require.NoError(t, a.Lock(osl.LOCK_RESERVED))
	require.NoError(t, a.Lock(osl.LOCK_PENDING))

	start := time.Now()
	require.ErrorIs(t, b.Lock(osl.LOCK_SHARED), osl.BUSY)
	// The PENDING byte is retried a few times before giving up.
	require.GreaterOrEqual(t, time.Since(start), 3*time.Millisecond)

	require.NoError(t, a.Unlock())
	require.NoError(t, b.Lock(osl.LOCK_SHARED))
}

func TestLock_exclusiveExcludesAll(t *testing.T) {
	for regime, host := range testHosts {
		t.Run(regime, func(t *testing.T) {
			name := memosl.TestFilename(t)
			a := openFile(t, host, name)
			b := openFile(t, host, name)

			for _, lvl := range []osl.LockLevel{
				osl.LOCK_SHARED,
				osl.LOCK_RESERVED,
				osl.LOCK_PENDING,
				osl.LOCK_EXCLUSIVE,
			} {
				require.NoError(t, a.Lock(lvl))
			}

			require.ErrorIs(t, b.Lock(osl.LOCK_SHARED), osl.BUSY)

			require.NoError(t, a.Unlock())
			require.NoError(t, b.Lock(osl.LOCK_SHARED))
		})
	}
}

func TestLock_checkReserved(t *testing.T) {
	// S7 and S8.
	name := memosl.TestFilename(t)
	a := openFile(t, memosl.Host{}, name)
	b := openFile(t, memosl.Host{}, name)

	require.NoError(t, a.Lock(osl.LOCK_SHARED))
	got, err := a.CheckReservedLock()
	require.NoError(t, err)
	require.False(t, got)

	require.NoError(t, b.Lock(osl.LOCK_SHARED))
	require.NoError(t, b.Lock(osl.LOCK_RESERVED))

	got, err = a.CheckReservedLock()
	require.NoError(t, err)
	require.True(t, got)

	// The holder sees its own write intent without touching the file.
	got, err = b.CheckReservedLock()
	require.NoError(t, err)
	require.True(t, got)

	require.NoError(t, b.Unlock())
	got, err = a.CheckReservedLock()
	require.NoError(t, err)
	require.False(t, got)
}

func TestLock_legacyByteCollision(t *testing.T) {
	// Two legacy readers collide only when they draw the same pool
	// byte. Drive the draw deterministically to force both outcomes.
	var next uint32
	osl.SetRandomness(func(p []byte) {
		binary.LittleEndian.PutUint32(p, next)
	})
	defer osl.SetRandomness(nil)

	host := memosl.Host{Legacy: true}
	name := memosl.TestFilename(t)
	a := openFile(t, host, name)
	b := openFile(t, host, name)

	next = 17
	require.NoError(t, a.Lock(osl.LOCK_SHARED))
	require.ErrorIs(t, b.Lock(osl.LOCK_SHARED), osl.BUSY)

	next = 18
	require.NoError(t, b.Lock(osl.LOCK_SHARED))
}

func TestLock_legacyModernCoexistence(t *testing.T) {
	// A legacy reader holds an exclusive byte inside the pool, so it
	// excludes all modern readers (and vice versa) — an accepted
	// degradation. Writer exclusion must still hold both ways.
	name := memosl.TestFilename(t)
	legacy := openFile(t, memosl.Host{Legacy: true}, name)
	modern := openFile(t, memosl.Host{}, name)

	require.NoError(t, legacy.Lock(osl.LOCK_SHARED))
	require.ErrorIs(t, modern.Lock(osl.LOCK_SHARED), osl.BUSY)

	require.NoError(t, legacy.Unlock())
	require.NoError(t, modern.Lock(osl.LOCK_SHARED))
	require.ErrorIs(t, legacy.Lock(osl.LOCK_SHARED), osl.BUSY)

	// Writer exclusion still holds: with the modern reader in the
	// pool, a legacy writer cannot reach EXCLUSIVE either.
	require.ErrorIs(t, legacy.Lock(osl.LOCK_EXCLUSIVE), osl.BUSY)
}

func TestLock_concurrentInvariant(t *testing.T) {
	// Hammer one file from many descriptors and check the engine
	// invariant: a writer at EXCLUSIVE never observes a reader.
	name := memosl.TestFilename(t)

	var readers, writers atomic.Int32
	var group errgroup.Group

	for range 6 {
		fd := openFile(t, memosl.Host{}, name)
		group.Go(func() error {
			for range 50 {
				for fd.Lock(osl.LOCK_SHARED) != nil {
					osl.Sleep(1)
				}
				readers.Add(1)
				time.Sleep(time.Microsecond)
				readers.Add(-1)
				if err := fd.Unlock(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	for range 2 {
		fd := openFile(t, memosl.Host{}, name)
		group.Go(func() error {
			for range 20 {
			climb:
				for {
					for _, lvl := range []osl.LockLevel{
						osl.LOCK_SHARED,
						osl.LOCK_RESERVED,
						osl.LOCK_PENDING,
						osl.LOCK_EXCLUSIVE,
					} {
						if fd.Lock(lvl) != nil {
							// Promotion BUSY forfeits everything.
							if err := fd.Unlock(); err != nil {
								return err
							}
							osl.Sleep(1)
							continue climb
						}
					}
					break
				}
				if n := writers.Add(1); n != 1 {
					return fmt.Errorf("%d writers at EXCLUSIVE", n)
				}
				if n := readers.Load(); n != 0 {
					return fmt.Errorf("%d readers while EXCLUSIVE held", n)
				}
				writers.Add(-1)
				if err := fd.Unlock(); err != nil {
					return err
				}
			}
			return nil
		})
	}

	require.NoError(t, group.Wait())
}
