package iotools

import (
	"io"
	"sync"
)

// chunkSize is the unit the background goroutine pulls from the source.
const chunkSize = 64 * 1024

// chunkDepth bounds how many chunks may be in flight between the producer and
// the consumer.
const chunkDepth = 4

type chunk struct {
	data []byte
	err  error
}

// Threaded decouples two synchronous pipeline stages: a background goroutine
// pulls chunks from the source and ships them over a bounded channel, so the
// producer (a network body, a gzip stream) and the consumer (gzip, tar) block
// independently. Close cancels the goroutine and joins it; no goroutine
// outlives its Threaded.
type Threaded struct {
	ch   chan chunk
	done chan struct{}
	wg   sync.WaitGroup
	once sync.Once

	rest []byte
	err  error
}

// NewThreaded starts the pull goroutine over r.
func NewThreaded(r io.Reader) *Threaded {
	t := &Threaded{
		ch:   make(chan chunk, chunkDepth),
		done: make(chan struct{}),
	}
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		defer close(t.ch)
		for {
			buf := make([]byte, chunkSize)
			n, err := r.Read(buf)
			c := chunk{data: buf[:n], err: err}
			select {
			case t.ch <- c:
			case <-t.done:
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return t
}

func (t *Threaded) Read(p []byte) (int, error) {
	for len(t.rest) == 0 {
		if t.err != nil {
			return 0, t.err
		}
		c, ok := <-t.ch
		if !ok {
			// Channel closed without a terminal chunk.
			return 0, io.ErrClosedPipe
		}
		t.rest = c.data
		if c.err != nil {
			t.err = c.err
		}
	}
	n := copy(p, t.rest)
	t.rest = t.rest[n:]
	return n, nil
}

// Close stops the background goroutine and waits for it to exit. It never
// fails; the signature exists so reader chains can be torn down uniformly.
func (t *Threaded) Close() error {
	t.once.Do(func() {
		close(t.done)
		for range t.ch {
		}
		t.wg.Wait()
	})
	return nil
}
