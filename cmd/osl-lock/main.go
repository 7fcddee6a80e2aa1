// Command osl-lock opens a database file through the OS layer, climbs
// to the requested lock level, holds it for a while, and lets go.
//
// It exists to exercise peers: point it at a database another process
// has open to verify that process sees BUSY where it should, or hold
// EXCLUSIVE to keep everyone out during maintenance.
//
//	osl-lock --level exclusive --hold 30s --timeout 5s file.db
package main

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/ncruces/go-osl"
	_ "github.com/ncruces/go-osl/memosl"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	level := pflag.String("level", "shared", "lock level to acquire: shared, reserved or exclusive")
	hold := pflag.Duration("hold", 10*time.Second, "how long to hold the lock")
	timeout := pflag.Duration("timeout", 5*time.Second, "how long to retry BUSY before giving up")
	hostName := pflag.String("host", "os", "host to open the file through")
	verbose := pflag.BoolP("verbose", "v", false, "trace every OS-layer operation")
	pflag.Parse()

	if pflag.NArg() != 1 {
		return fmt.Errorf("usage: osl-lock [flags] FILE")
	}

	if !*verbose {
		log.SetOutput(io.Discard)
	}
	osl.Trace = func(format string, args ...any) {
		log.Printf(format, args...)
	}

	var target osl.LockLevel
	switch strings.ToLower(*level) {
	case "shared":
		target = osl.LOCK_SHARED
	case "reserved":
		target = osl.LOCK_RESERVED
	case "exclusive":
		target = osl.LOCK_EXCLUSIVE
	default:
		return fmt.Errorf("unknown lock level: %s", *level)
	}

	host := osl.Find(*hostName)
	if host == nil {
		return fmt.Errorf("no such host: %s", *hostName)
	}

	name, err := host.FullPathname(pflag.Arg(0))
	if err != nil {
		return fmt.Errorf("resolving %s: %w", pflag.Arg(0), err)
	}

	fd, readonly, err := host.OpenReadWrite(name)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer fd.Close()
	if readonly && target > osl.LOCK_SHARED {
		return fmt.Errorf("%s is read-only: cannot take %v", name, target)
	}

	// Climb the ladder the way the pager does: SHARED first, RESERVED
	// to announce write intent, then PENDING to freeze new readers
	// while EXCLUSIVE is attempted. A BUSY at EXCLUSIVE releases
	// everything and restarts the climb from SHARED.
	ladder := []osl.LockLevel{osl.LOCK_SHARED}
	switch target {
	case osl.LOCK_RESERVED:
		ladder = append(ladder, osl.LOCK_RESERVED)
	case osl.LOCK_EXCLUSIVE:
		ladder = append(ladder, osl.LOCK_RESERVED,
			osl.LOCK_PENDING, osl.LOCK_EXCLUSIVE)
	}

	deadline := time.Now().Add(*timeout)
climb:
	for {
		for _, lvl := range ladder {
			for {
				err := fd.Lock(lvl)
				if err == nil {
					log.Printf("acquired %v", lvl)
					break
				}
				if err != osl.BUSY || time.Now().After(deadline) {
					return fmt.Errorf("locking %s at %v: %w", name, lvl, err)
				}
				if lvl == osl.LOCK_EXCLUSIVE {
					// A BUSY promotion forfeits every lock held so
					// far; drop the stale state and climb again.
					_ = fd.Unlock()
					osl.Sleep(10)
					continue climb
				}
				osl.Sleep(10)
			}
		}
		break
	}

	fmt.Printf("holding %v on %s for %v\n", target, name, *hold)
	time.Sleep(*hold)

	if err := fd.Unlock(); err != nil {
		return fmt.Errorf("unlocking %s: %w", name, err)
	}
	fmt.Println("released")
	return nil
}
