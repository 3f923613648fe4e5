package rootfs

import (
	"archive/tar"
	"io/fs"
	"log/slog"

	"golang.org/x/sys/unix"
)

func makeDevice(into string, hdr *tar.Header, _ fs.FileMode, _ *slog.Logger) error {
	// Device nodes want the raw unix permission bits, not fs.FileMode.
	node := uint32(hdr.Mode) & 0o7777
	if hdr.Typeflag == tar.TypeChar {
		node |= unix.S_IFCHR
	} else {
		node |= unix.S_IFBLK
	}
	dev := unix.Mkdev(uint32(hdr.Devmajor), uint32(hdr.Devminor))
	return unix.Mknod(into, node, int(dev))
}

func makeFifo(into string, mode fs.FileMode, _ *slog.Logger) error {
	return unix.Mkfifo(into, uint32(mode.Perm()))
}
