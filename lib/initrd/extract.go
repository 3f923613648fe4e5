package initrd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/onkernel/wyrcan/lib/unpack"
)

// Extract drains the unpacker into a newc cpio stream on initrd, routing the
// kernel and cmdline payloads into their writers as the bytes stream past.
// Pass io.Discard for outputs nobody wants.
func Extract(ctx context.Context, u *unpack.Unpacker, kernel, initrd, cmdline io.Writer, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}

	bundles, err := u.Bundles(ctx)
	if err != nil {
		return err
	}
	defer func() {
		for _, b := range bundles {
			b.Close()
		}
	}()

	w := NewWriter(initrd)
	kernelWatch := NewKernelLookAside(kernel)
	cmdlineWatch := NewCmdlineLookAside(cmdline)

	for _, b := range bundles {
		for {
			hdr, body, err := b.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("layer %s: %w", b.Digest(), err)
			}

			tee, err := kernelWatch.Glance(hdr)
			if err != nil {
				return err
			}
			if tee == nil {
				if tee, err = cmdlineWatch.Glance(hdr); err != nil {
					return err
				}
			} else {
				log.Debug("found kernel payload", "entry", hdr.Name)
			}

			if err := w.WriteEntry(hdr, body, tee); err != nil {
				return fmt.Errorf("layer %s: %w", b.Digest(), err)
			}
		}
		if err := b.Close(); err != nil {
			return fmt.Errorf("layer %s: %w", b.Digest(), err)
		}
	}

	return w.Close()
}
