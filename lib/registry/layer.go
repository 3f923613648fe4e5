package registry

import (
	"context"
	"fmt"
	"io"

	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/klauspost/pgzip"

	"github.com/onkernel/wyrcan/lib/digest"
	"github.com/onkernel/wyrcan/lib/iotools"
	"github.com/onkernel/wyrcan/lib/manifest"
)

// Layer is one blob of an image: a descriptor plus the repository to fetch
// it from.
type Layer struct {
	repo *Repository
	desc manifest.Descriptor
}

// Digest returns the layer's content digest.
func (l Layer) Digest() digest.Digest { return l.desc.Digest }

// Size returns the declared blob size; zero means unknown.
func (l Layer) Size() int64 { return l.desc.Size }

// MediaType returns the descriptor media type; empty means unknown.
func (l Layer) MediaType() string { return l.desc.MediaType }

// Download opens the blob. The returned reader verifies the content digest
// as bytes flow and turns end-of-file into an integrity error on mismatch.
// A declared nonzero size must match the response Content-Length.
func (l Layer) Download(ctx context.Context) (int64, io.ReadCloser, error) {
	resp, err := l.repo.get(ctx, "blobs/"+l.desc.Digest.String(), nil)
	if err != nil {
		return 0, nil, err
	}

	if l.desc.Size != 0 && resp.ContentLength != l.desc.Size {
		drain(resp)
		return 0, nil, fmt.Errorf("%s: %w: manifest says %d, got %d",
			l.desc.Digest, ErrSizeMismatch, l.desc.Size, resp.ContentLength)
	}

	size := resp.ContentLength
	if size < 0 {
		size = l.desc.Size
	}

	return size, &validatingBody{
		Validator: iotools.NewValidator(resp.Body, l.desc.Digest.Verifier()),
		body:      resp.Body,
	}, nil
}

// Decompressor wraps the blob stream according to the layer media type:
// gzipped tar variants are decoded, bare tar passes through, anything else
// is refused.
func (l Layer) Decompressor(r io.Reader) (io.ReadCloser, error) {
	switch types.MediaType(l.desc.MediaType) {
	case types.DockerLayer, types.OCILayer, types.OCIRestrictedLayer:
		zr, err := pgzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("%s: open gzip: %w", l.desc.Digest, err)
		}
		return zr, nil

	case types.DockerUncompressedLayer, types.OCIUncompressedLayer,
		types.OCIUncompressedRestrictedLayer, "":
		return io.NopCloser(r), nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrMediaType, l.desc.MediaType)
	}
}

// validatingBody pairs the digest-checking reader with the network body's
// Close.
type validatingBody struct {
	*iotools.Validator
	body io.Closer
}

func (v *validatingBody) Close() error {
	return v.body.Close()
}
