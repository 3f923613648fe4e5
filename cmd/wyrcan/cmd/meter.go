package cmd

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/c2h5oh/datasize"

	"github.com/onkernel/wyrcan/lib/unpack"
)

// terminalMeter renders download progress as a single rewritten stderr line.
// It throttles redraws so the byte-count hook stays cheap.
type terminalMeter struct {
	mu     sync.Mutex
	prefix string
	out    io.Writer
	total  int64
	count  int64
	start  time.Time
	drawn  time.Time
	dirty  bool
}

func newTerminalMeter(prefix string) *terminalMeter {
	return &terminalMeter{
		prefix: prefix,
		out:    os.Stderr,
		start:  time.Now(),
	}
}

// meterFor returns the progress hook for a command: a terminal meter, or
// nothing when -q was given.
func meterFor(quiet bool, prefix string) unpack.Meter {
	if quiet {
		return unpack.NopMeter{}
	}
	return newTerminalMeter(prefix)
}

func (m *terminalMeter) Grow(total int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.total += total
	m.draw(false)
}

func (m *terminalMeter) Count(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.count += int64(n)
	m.draw(false)
}

// Finish draws the final state and terminates the line.
func (m *terminalMeter) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.draw(true)
	if m.dirty {
		fmt.Fprintln(m.out)
		m.dirty = false
	}
}

func (m *terminalMeter) draw(force bool) {
	now := time.Now()
	if !force && now.Sub(m.drawn) < 100*time.Millisecond {
		return
	}
	m.drawn = now

	elapsed := now.Sub(m.start).Round(time.Second)
	rate := float64(m.count) / max(now.Sub(m.start).Seconds(), 1e-3)
	fmt.Fprintf(m.out, "\r%s %4s %10s / %-10s %10s/s",
		m.prefix,
		elapsed,
		datasize.ByteSize(m.count).HR(),
		datasize.ByteSize(m.total).HR(),
		datasize.ByteSize(rate).HR(),
	)
	m.dirty = true
}
