package registry

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/klauspost/pgzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onkernel/wyrcan/lib/iotools"
	"github.com/onkernel/wyrcan/lib/manifest"
	"github.com/onkernel/wyrcan/lib/registry/registrytest"
)

func descriptorWithMediaType(mt string) manifest.Descriptor {
	return manifest.Descriptor{MediaType: mt}
}

func imageLayers(t *testing.T, srv *registrytest.Server, ref string) []Layer {
	t.Helper()
	repo, selector, err := NewRepository(ref, WithClient(srv.Client()))
	require.NoError(t, err)
	img, err := repo.Image(context.Background(), selector)
	require.NoError(t, err)
	layers, err := img.Layers()
	require.NoError(t, err)
	return layers
}

func TestDownloadValidates(t *testing.T) {
	layer := registrytest.TarGz(t, registrytest.Entry{Name: "etc/os-release", Body: []byte("ID=test\n")})
	srv := registrytest.NewServer(t, "library/alpine", "latest", [][]byte{layer})

	layers := imageLayers(t, srv, srv.Reference())
	require.Len(t, layers, 1)

	size, body, err := layers[0].Download(context.Background())
	require.NoError(t, err)
	defer body.Close()
	assert.Equal(t, int64(len(layer)), size)

	got, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, layer, got)
}

func TestDownloadDigestMismatch(t *testing.T) {
	layer := registrytest.TarGz(t, registrytest.Entry{Name: "etc/motd", Body: []byte("hi\n")})

	// Same length, one flipped byte: passes the size check, fails the digest.
	corrupt := append([]byte(nil), layer...)
	corrupt[len(corrupt)-1] ^= 0x01

	srv := registrytest.NewServer(t, "library/alpine", "latest", [][]byte{layer},
		registrytest.WithCorruptBlob(registrytest.Digest(layer), corrupt))

	layers := imageLayers(t, srv, srv.Reference())
	_, body, err := layers[0].Download(context.Background())
	require.NoError(t, err)
	defer body.Close()

	_, err = io.ReadAll(body)
	assert.ErrorIs(t, err, iotools.ErrInvalidData)
}

func TestDownloadSizeMismatch(t *testing.T) {
	layer := registrytest.TarGz(t, registrytest.Entry{Name: "etc/motd", Body: []byte("hi\n")})

	srv := registrytest.NewServer(t, "library/alpine", "latest", [][]byte{layer},
		registrytest.WithCorruptBlob(registrytest.Digest(layer), append(layer, 0x00)))

	layers := imageLayers(t, srv, srv.Reference())
	_, _, err := layers[0].Download(context.Background())
	assert.ErrorIs(t, err, ErrSizeMismatch)
}

func TestDecompressorSelection(t *testing.T) {
	plain := []byte("not compressed")
	var zipped bytes.Buffer
	zw := pgzip.NewWriter(&zipped)
	_, err := zw.Write(plain)
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	gzipTypes := []string{
		"application/vnd.docker.image.rootfs.diff.tar.gzip",
		"application/vnd.oci.image.layer.v1.tar+gzip",
		"application/vnd.oci.image.layer.nondistributable.v1.tar+gzip",
	}
	for _, mt := range gzipTypes {
		l := Layer{desc: descriptorWithMediaType(mt)}
		r, err := l.Decompressor(bytes.NewReader(zipped.Bytes()))
		require.NoError(t, err, mt)
		got, err := io.ReadAll(r)
		require.NoError(t, err, mt)
		assert.Equal(t, plain, got, mt)
		require.NoError(t, r.Close())
	}

	rawTypes := []string{
		"application/vnd.docker.image.rootfs.diff.tar",
		"application/vnd.oci.image.layer.v1.tar",
		"application/vnd.oci.image.layer.nondistributable.v1.tar",
		"",
	}
	for _, mt := range rawTypes {
		l := Layer{desc: descriptorWithMediaType(mt)}
		r, err := l.Decompressor(bytes.NewReader(plain))
		require.NoError(t, err, mt)
		got, err := io.ReadAll(r)
		require.NoError(t, err, mt)
		assert.Equal(t, plain, got, mt)
	}

	l := Layer{desc: descriptorWithMediaType("application/x-unheard-of")}
	_, err = l.Decompressor(bytes.NewReader(plain))
	assert.ErrorIs(t, err, ErrMediaType)
}
