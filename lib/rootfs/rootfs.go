// Package rootfs writes a merged image entry stream out as a filesystem
// tree.
package rootfs

import (
	"archive/tar"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"

	"github.com/onkernel/wyrcan/lib/unpack"
)

var (
	// ErrBadPath reports an entry whose name would escape the output root.
	ErrBadPath = errors.New("disallowed path component")
	// ErrBadEntry reports an entry kind the sink cannot materialize.
	ErrBadEntry = errors.New("unsupported entry kind")
)

// Extract drains the unpacker into dir, which must already exist. Name
// collisions (case-insensitive hosts) and unsupported node kinds on this
// platform are logged and skipped; everything else aborts.
func Extract(ctx context.Context, u *unpack.Unpacker, dir string, log *slog.Logger) error {
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

	for _, b := range bundles {
		for {
			hdr, body, err := b.Next()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return fmt.Errorf("layer %s: %w", b.Digest(), err)
			}
			if err := writeEntry(dir, hdr, body, log); err != nil {
				return fmt.Errorf("layer %s: %s: %w", b.Digest(), hdr.Name, err)
			}
		}
		if err := b.Close(); err != nil {
			return fmt.Errorf("layer %s: %w", b.Digest(), err)
		}
	}

	return nil
}

// checkPath refuses names that step outside the output root.
func checkPath(name string) error {
	if strings.HasPrefix(name, "/") || filepath.VolumeName(name) != "" {
		return fmt.Errorf("%w: %q", ErrBadPath, name)
	}
	for _, c := range strings.Split(name, "/") {
		if c == ".." {
			return fmt.Errorf("%w: %q", ErrBadPath, name)
		}
	}
	return nil
}

func writeEntry(dir string, hdr *tar.Header, body io.Reader, log *slog.Logger) error {
	if err := checkPath(hdr.Name); err != nil {
		return err
	}

	// SecureJoin also keeps symlinked directories from leading outside dir.
	into, err := securejoin.SecureJoin(dir, hdr.Name)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	// Mostly case-insensitive hosts replaying a case-sensitive image.
	if _, err := os.Lstat(into); err == nil {
		log.Warn("name collision", "path", into)
		return nil
	}

	// FileInfo translates the raw tar mode into fs.FileMode, keeping
	// setuid/setgid/sticky in their Go bit positions.
	mode := hdr.FileInfo().Mode() & (fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky)

	switch hdr.Typeflag {
	case tar.TypeDir:
		// Parents were created by earlier entries; no MkdirAll.
		return os.Mkdir(into, mode)

	case tar.TypeReg:
		f, err := os.OpenFile(into, os.O_WRONLY|os.O_CREATE|os.O_EXCL|os.O_APPEND, mode)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, body); err != nil {
			f.Close()
			return err
		}
		return f.Close()

	case tar.TypeSymlink:
		if hdr.Linkname == "" {
			return fmt.Errorf("%w: symlink without target", ErrBadEntry)
		}
		return os.Symlink(hdr.Linkname, into)

	case tar.TypeLink:
		if err := checkPath(hdr.Linkname); err != nil {
			return err
		}
		target, err := securejoin.SecureJoin(dir, hdr.Linkname)
		if err != nil {
			return fmt.Errorf("resolve link target: %w", err)
		}
		return os.Link(target, into)

	case tar.TypeChar, tar.TypeBlock:
		return makeDevice(into, hdr, mode, log)

	case tar.TypeFifo:
		return makeFifo(into, mode, log)

	default:
		return fmt.Errorf("%w: typeflag %q", ErrBadEntry, hdr.Typeflag)
	}
}
