// Package unpack streams an image's layers through a parallel download and
// decode pipeline and collapses them into one logical entry stream using the
// overlay whiteout rules.
package unpack

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"
	"sync"

	"github.com/onkernel/wyrcan/lib/iotools"
	"github.com/onkernel/wyrcan/lib/registry"
)

const opaqueMarker = ".wh..wh..opq"
const whiteoutPrefix = ".wh."

// Unpacker owns the layer list and the seen-paths set shared by all bundles.
// The set records every path emitted (or masked) so far; because bundles are
// consumed top layer first, the first emitter of a path wins and whiteout
// markers from upper layers suppress files below them.
type Unpacker struct {
	layers []registry.Layer
	image  string
	meter  Meter
	log    *slog.Logger

	mu   sync.RWMutex
	seen map[string]struct{}
}

// New prepares an unpacker over the image's layers. A nil meter disables
// progress accounting.
func New(img *registry.Image, meter Meter, log *slog.Logger) (*Unpacker, error) {
	layers, err := img.Layers()
	if err != nil {
		return nil, err
	}
	if meter == nil {
		meter = NopMeter{}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Unpacker{
		layers: layers,
		image:  img.String(),
		meter:  meter,
		log:    log,
		seen:   make(map[string]struct{}),
	}, nil
}

// Image returns the display reference the unpacker was built from.
func (u *Unpacker) Image() string { return u.image }

type download struct {
	size int64
	body io.ReadCloser
	err  error
}

// Bundles starts one download goroutine per layer, top layer first, then
// assembles each reader chain as its download is joined:
//
//	network body (digest-validated) -> meter -> goroutine -> gzip -> goroutine -> tar
//
// The two decoupling stages keep the network, the decompressor, and the tar
// parser from stalling one another. Bundles are returned in consumption
// order: top layer first, base last (the whiteout rules depend on it).
func (u *Unpacker) Bundles(ctx context.Context) ([]*Bundle, error) {
	u.log.Debug("starting layer downloads", "image", u.image, "layers", len(u.layers))

	results := make([]chan download, len(u.layers))
	for i := len(u.layers) - 1; i >= 0; i-- {
		ch := make(chan download, 1)
		results[i] = ch
		go func(l registry.Layer) {
			size, body, err := l.Download(ctx)
			ch <- download{size: size, body: body, err: err}
		}(u.layers[i])
	}

	bundles := make([]*Bundle, 0, len(u.layers))
	fail := func(i int, err error) ([]*Bundle, error) {
		for _, b := range bundles {
			b.Close()
		}
		for j := i - 1; j >= 0; j-- {
			go func(ch chan download) {
				if d := <-ch; d.err == nil {
					d.body.Close()
				}
			}(results[j])
		}
		return nil, err
	}

	for i := len(u.layers) - 1; i >= 0; i-- {
		layer := u.layers[i]
		d := <-results[i]
		if d.err != nil {
			return fail(i, fmt.Errorf("download layer %s: %w", layer.Digest(), d.err))
		}
		u.meter.Grow(d.size)

		closers := []io.Closer{d.body}
		counted := iotools.NewSiphon(d.body, meterWriter{u.meter})
		pre := iotools.NewThreaded(counted)
		closers = append(closers, pre)

		decoded, err := layer.Decompressor(bufio.NewReaderSize(pre, 64*1024))
		if err != nil {
			pre.Close()
			d.body.Close()
			return fail(i, err)
		}
		post := iotools.NewThreaded(decoded)
		// Close order: network body first (unblocks reads), then the two
		// decoupling goroutines, and the decompressor only once nothing is
		// reading it anymore.
		closers = append(closers, post, decoded)

		bundles = append(bundles, &Bundle{
			unpacker: u,
			digest:   layer.Digest().String(),
			tr:       tar.NewReader(post),
			closers:  closers,
		})
	}

	return bundles, nil
}

// Seen reports whether a normalized path was already emitted or masked.
func (u *Unpacker) Seen(p string) bool {
	u.mu.RLock()
	defer u.mu.RUnlock()
	_, ok := u.seen[p]
	return ok
}

func (u *Unpacker) mark(p string) {
	u.mu.Lock()
	u.seen[p] = struct{}{}
	u.mu.Unlock()
}

// skip applies the union rules to one entry path. It returns true when the
// entry must not be emitted; surviving paths are recorded as seen.
func (u *Unpacker) skip(name string) bool {
	p := normalize(name)
	if p == "." {
		return true
	}

	// A higher layer already emitted (or masked) this exact path.
	if u.Seen(p) {
		return true
	}

	// An opaque marker on the path or any ancestor blanks it.
	for a := p; ; a = path.Dir(a) {
		if u.Seen(path.Join(a, opaqueMarker)) {
			return true
		}
		if a == "." || a == "/" {
			break
		}
	}

	// A sibling whiteout deleted this file, or one of the directories above it.
	for a := p; a != "." && a != "/"; a = path.Dir(a) {
		if u.Seen(path.Join(path.Dir(a), whiteoutPrefix+path.Base(a))) {
			return true
		}
	}

	u.mark(p)

	// Whiteout markers themselves guard the set but are never emitted.
	return strings.HasPrefix(path.Base(p), whiteoutPrefix)
}

// normalize maps tar entry names ("./etc/", "etc/passwd") onto the clean
// relative form the seen-paths set is keyed by.
func normalize(name string) string {
	return path.Clean(strings.TrimPrefix(name, "/"))
}

// Bundle is one layer's tar stream filtered through the shared union state.
type Bundle struct {
	unpacker *Unpacker
	digest   string
	tr       *tar.Reader
	closers  []io.Closer
	closed   bool
	opaque   []string
}

// Digest identifies the layer backing this bundle.
func (b *Bundle) Digest() string { return b.digest }

// Next returns the next surviving entry and a reader over its body. The
// reader is only valid until the following Next call. io.EOF signals the end
// of the layer.
func (b *Bundle) Next() (*tar.Header, io.Reader, error) {
	for {
		hdr, err := b.tr.Next()
		if err == io.EOF {
			// This layer's opaque markers are recorded only once the layer
			// ends, so they hide lower layers' entries but not its own.
			for _, p := range b.opaque {
				b.unpacker.mark(p)
			}
			b.opaque = nil
		}
		if err != nil {
			return nil, nil, err
		}
		if p := normalize(hdr.Name); path.Base(p) == opaqueMarker {
			b.opaque = append(b.opaque, p)
			continue
		}
		if b.unpacker.skip(hdr.Name) {
			continue
		}
		return hdr, b.tr, nil
	}
}

// Close tears the reader chain down: the network body first so blocked reads
// unwind, then the decoupling goroutines and the decompressor.
func (b *Bundle) Close() error {
	if b.closed {
		return nil
	}
	b.closed = true

	var first error
	for _, c := range b.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
