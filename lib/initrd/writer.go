// Package initrd re-encodes a merged image entry stream as a Linux newc cpio
// archive, the format the kernel accepts as an initramfs, while teeing the
// well-known kernel and cmdline paths into side channels.
package initrd

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/u-root/u-root/pkg/cpio"
	"golang.org/x/sys/unix"

	"github.com/onkernel/wyrcan/lib/iotools"
)

// ErrBadEntry reports a tar entry that has no cpio representation.
var ErrBadEntry = errors.New("unsupported entry kind")

// Writer emits newc records. Inodes are allocated sequentially; hard links
// reuse their target's inode so the kernel re-links them at boot.
type Writer struct {
	rw   cpio.RecordWriter
	ino  uint64
	inos map[string]uint64
}

// NewWriter arranges newc output on w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		rw:   cpio.Newc.Writer(w),
		inos: make(map[string]uint64),
	}
}

// WriteEntry encodes one tar entry. For regular files the body is streamed
// straight into the archive; when tee is non-nil the body bytes are also
// copied there (the look-aside channel). Symlink bodies are the link target.
func (w *Writer) WriteEntry(hdr *tar.Header, body io.Reader, tee io.Writer) error {
	name := path.Clean(strings.TrimPrefix(hdr.Name, "/"))

	w.ino++
	rec := cpio.Record{
		Info: cpio.Info{
			Ino:   w.ino,
			UID:   uint64(hdr.Uid),
			GID:   uint64(hdr.Gid),
			NLink: 1,
			MTime: uint64(max(hdr.ModTime.Unix(), 0)),
			Name:  name,
		},
	}
	perm := uint64(hdr.Mode) & 0o7777

	switch hdr.Typeflag {
	case tar.TypeReg:
		rec.Mode = unix.S_IFREG | perm
		rec.FileSize = uint64(hdr.Size)
		src := body
		if tee != nil {
			src = iotools.NewSiphon(body, tee)
		}
		rec.ReaderAt = newStreamReaderAt(src)
		w.inos[name] = rec.Ino

	case tar.TypeLink:
		rec.Mode = unix.S_IFREG | perm
		target := path.Clean(strings.TrimPrefix(hdr.Linkname, "/"))
		if ino, ok := w.inos[target]; ok {
			rec.Ino = ino
			rec.NLink = 2
		}
		rec.ReaderAt = strings.NewReader("")

	case tar.TypeSymlink:
		if hdr.Linkname == "" {
			return fmt.Errorf("%w: symlink %s without target", ErrBadEntry, name)
		}
		rec.Mode = unix.S_IFLNK | perm
		rec.FileSize = uint64(len(hdr.Linkname))
		rec.ReaderAt = strings.NewReader(hdr.Linkname)

	case tar.TypeDir:
		rec.Mode = unix.S_IFDIR | perm
		rec.NLink = 2
		rec.ReaderAt = strings.NewReader("")

	case tar.TypeChar:
		rec.Mode = unix.S_IFCHR | perm
		rec.Rmajor = uint64(hdr.Devmajor)
		rec.Rminor = uint64(hdr.Devminor)
		rec.ReaderAt = strings.NewReader("")

	case tar.TypeBlock:
		rec.Mode = unix.S_IFBLK | perm
		rec.Rmajor = uint64(hdr.Devmajor)
		rec.Rminor = uint64(hdr.Devminor)
		rec.ReaderAt = strings.NewReader("")

	case tar.TypeFifo:
		rec.Mode = unix.S_IFIFO | perm
		rec.ReaderAt = strings.NewReader("")

	default:
		return fmt.Errorf("%w: typeflag %q on %s", ErrBadEntry, hdr.Typeflag, name)
	}

	if err := w.rw.WriteRecord(rec); err != nil {
		return fmt.Errorf("write cpio record %s: %w", name, err)
	}
	return nil
}

// Close appends the trailer record.
func (w *Writer) Close() error {
	if err := cpio.WriteTrailer(w.rw); err != nil {
		return fmt.Errorf("write cpio trailer: %w", err)
	}
	return nil
}

// streamReaderAt adapts a sequential reader to the io.ReaderAt the cpio
// record wants. The newc writer copies record bodies front to back through a
// section reader, so only in-order reads ever happen.
type streamReaderAt struct {
	r   io.Reader
	off int64
}

func newStreamReaderAt(r io.Reader) *streamReaderAt {
	return &streamReaderAt{r: r}
}

func (s *streamReaderAt) ReadAt(p []byte, off int64) (int, error) {
	if off != s.off {
		return 0, fmt.Errorf("non-sequential read at %d, expected %d", off, s.off)
	}
	n, err := io.ReadFull(s.r, p)
	s.off += int64(n)
	if errors.Is(err, io.ErrUnexpectedEOF) {
		err = io.EOF
	}
	return n, err
}
