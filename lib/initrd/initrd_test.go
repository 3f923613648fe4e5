package initrd

import (
	"archive/tar"
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/u-root/u-root/pkg/cpio"
	"golang.org/x/sys/unix"

	"github.com/onkernel/wyrcan/lib/registry"
	"github.com/onkernel/wyrcan/lib/registry/registrytest"
	"github.com/onkernel/wyrcan/lib/unpack"
)

func newUnpacker(t *testing.T, layers ...[]byte) *unpack.Unpacker {
	t.Helper()

	srv := registrytest.NewServer(t, "library/boot", "latest", layers)
	repo, selector, err := registry.NewRepository(srv.Reference(), registry.WithClient(srv.Client()))
	require.NoError(t, err)
	img, err := repo.Image(context.Background(), selector)
	require.NoError(t, err)
	u, err := unpack.New(img, nil, slog.Default())
	require.NoError(t, err)
	return u
}

func readRecords(t *testing.T, archive []byte) map[string]cpio.Record {
	t.Helper()

	rr := cpio.Newc.Reader(bytes.NewReader(archive))
	records := map[string]cpio.Record{}
	for {
		rec, err := rr.ReadRecord()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		records[rec.Name] = rec
	}
	return records
}

func recordBody(t *testing.T, rec cpio.Record) []byte {
	t.Helper()

	if rec.FileSize == 0 {
		return nil
	}
	buf := make([]byte, rec.FileSize)
	n, err := rec.ReadAt(buf, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		t.Fatalf("read record %s: %v", rec.Name, err)
	}
	require.Equal(t, int(rec.FileSize), n)
	return buf
}

func TestExtractConvert(t *testing.T) {
	kernelBody := bytes.Repeat([]byte{0xb0, 0x07}, 64) // 128 bytes
	cmdlineBody := []byte("console=ttyS0 quiet")

	layer := registrytest.TarGz(t,
		registrytest.Entry{Name: "boot/", Type: tar.TypeDir, Mode: 0o755},
		registrytest.Entry{Name: "boot/wyrcan.kernel", Mode: 0o600, Body: kernelBody},
		registrytest.Entry{Name: "boot/wyrcan.cmdline", Mode: 0o600, Body: cmdlineBody},
		registrytest.Entry{Name: "etc/", Type: tar.TypeDir, Mode: 0o755},
		registrytest.Entry{Name: "etc/hostname", Mode: 0o644, Body: []byte("wyr\n")},
		registrytest.Entry{Name: "etc/alt", Type: tar.TypeSymlink, Link: "hostname"},
	)

	var kernel, archive, cmdline bytes.Buffer
	err := Extract(context.Background(), newUnpacker(t, layer), &kernel, &archive, &cmdline, nil)
	require.NoError(t, err)

	assert.Equal(t, kernelBody, kernel.Bytes())
	assert.Equal(t, cmdlineBody, cmdline.Bytes())

	// The archive must open with the newc magic and re-encode every entry,
	// the boot payload included.
	assert.True(t, bytes.HasPrefix(archive.Bytes(), []byte("070701")))

	records := readRecords(t, archive.Bytes())
	assert.Len(t, records, 6)

	assert.Equal(t, kernelBody, recordBody(t, records["boot/wyrcan.kernel"]))
	assert.Equal(t, []byte("wyr\n"), recordBody(t, records["etc/hostname"]))

	link := records["etc/alt"]
	assert.Equal(t, uint64(unix.S_IFLNK|0o644), link.Mode)
	assert.Equal(t, []byte("hostname"), recordBody(t, link))

	dir := records["etc"]
	assert.Equal(t, uint64(unix.S_IFDIR|0o755), dir.Mode)
}

func TestExtractKernelSymlinkHop(t *testing.T) {
	kernelBody := []byte("vmlinuz payload")

	layer := registrytest.TarGz(t,
		registrytest.Entry{Name: "boot/", Type: tar.TypeDir, Mode: 0o755},
		registrytest.Entry{Name: "boot/wyrcan.kernel", Type: tar.TypeSymlink, Link: "vmlinuz-6.1"},
		registrytest.Entry{Name: "boot/vmlinuz-6.1", Mode: 0o644, Body: kernelBody},
	)

	var kernel, archive bytes.Buffer
	err := Extract(context.Background(), newUnpacker(t, layer), &kernel, &archive, io.Discard, nil)
	require.NoError(t, err)
	assert.Equal(t, kernelBody, kernel.Bytes())
}

func TestExtractRejectsDirectoryKernel(t *testing.T) {
	layer := registrytest.TarGz(t,
		registrytest.Entry{Name: "boot/", Type: tar.TypeDir, Mode: 0o755},
		registrytest.Entry{Name: "boot/wyrcan.kernel", Type: tar.TypeDir, Mode: 0o755},
	)

	var archive bytes.Buffer
	err := Extract(context.Background(), newUnpacker(t, layer), io.Discard, &archive, io.Discard, nil)
	assert.ErrorIs(t, err, ErrLookAside)
}

func TestLookAsideGlance(t *testing.T) {
	var out bytes.Buffer
	la := NewKernelLookAside(&out)

	w, err := la.Glance(&tar.Header{Name: "etc/hostname", Typeflag: tar.TypeReg})
	require.NoError(t, err)
	assert.Nil(t, w)

	w, err = la.Glance(&tar.Header{Name: "boot/wyrcan.kernel", Typeflag: tar.TypeReg})
	require.NoError(t, err)
	assert.NotNil(t, w)

	// Multi-component or absolute link targets are refused.
	_, err = la.Glance(&tar.Header{
		Name: "boot/wyrcan.kernel", Typeflag: tar.TypeSymlink, Linkname: "../vmlinuz",
	})
	assert.ErrorIs(t, err, ErrLookAside)

	_, err = la.Glance(&tar.Header{
		Name: "boot/wyrcan.kernel", Typeflag: tar.TypeSymlink, Linkname: "/vmlinuz",
	})
	assert.ErrorIs(t, err, ErrLookAside)
}

func TestWriterHardLinksShareInodes(t *testing.T) {
	var archive bytes.Buffer
	w := NewWriter(&archive)

	require.NoError(t, w.WriteEntry(&tar.Header{
		Name: "bin/busybox", Typeflag: tar.TypeReg, Mode: 0o755, Size: 4,
	}, bytes.NewReader([]byte("exec")), nil))
	require.NoError(t, w.WriteEntry(&tar.Header{
		Name: "bin/sh", Typeflag: tar.TypeLink, Linkname: "bin/busybox", Mode: 0o755,
	}, nil, nil))
	require.NoError(t, w.Close())

	records := readRecords(t, archive.Bytes())
	require.Len(t, records, 2)
	assert.Equal(t, records["bin/busybox"].Ino, records["bin/sh"].Ino)
	assert.Equal(t, uint64(2), records["bin/sh"].NLink)
}

func TestWriterRejectsUnknownType(t *testing.T) {
	w := NewWriter(io.Discard)
	err := w.WriteEntry(&tar.Header{Name: "odd", Typeflag: 'Z'}, nil, nil)
	assert.ErrorIs(t, err, ErrBadEntry)
}
