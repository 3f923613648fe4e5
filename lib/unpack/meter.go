package unpack

// Meter is the byte-count hook for download progress. Grow raises the
// expected total as each layer's size becomes known; Count reports bytes as
// they arrive off the network. Rendering is the caller's business.
type Meter interface {
	Grow(total int64)
	Count(n int)
}

// NopMeter discards all progress.
type NopMeter struct{}

func (NopMeter) Grow(int64) {}
func (NopMeter) Count(int)  {}

// meterWriter adapts a Meter to io.Writer so it can sit behind a Siphon.
type meterWriter struct {
	m Meter
}

func (w meterWriter) Write(p []byte) (int, error) {
	w.m.Count(len(p))
	return len(p), nil
}
