package registry

import (
	"context"
	"fmt"
	"io"

	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/samber/lo"

	"github.com/onkernel/wyrcan/lib/digest"
	"github.com/onkernel/wyrcan/lib/manifest"
)

// Image binds a decoded manifest to the repository it came from.
type Image struct {
	repo     *Repository
	manifest manifest.Manifest
	selector string
}

func newImage(ctx context.Context, repo *Repository, selector string) (*Image, error) {
	resp, err := repo.get(ctx, "manifests/"+selector, acceptHeaders())
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	m, err := manifest.Decode(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return nil, err
	}

	return &Image{repo: repo, manifest: m, selector: selector}, nil
}

// String renders the display reference, e.g. docker.io/library/alpine:latest.
func (i *Image) String() string {
	return i.repo.String() + ":" + i.selector
}

// Manifest exposes the decoded manifest variant.
func (i *Image) Manifest() manifest.Manifest {
	return i.manifest
}

// Layers projects the manifest into a uniform layer list, base layer first.
// Manifest lists must be resolved before layers can be enumerated.
func (i *Image) Layers() ([]Layer, error) {
	switch m := i.manifest.(type) {
	case manifest.DockerV1:
		// Schema 1 carries only blob digests; everything was gzipped tar.
		return lo.Map(m.FSLayers, func(l manifest.V1Layer, _ int) Layer {
			return Layer{repo: i.repo, desc: manifest.Descriptor{
				MediaType: string(types.DockerLayer),
				Digest:    l.BlobSum,
			}}
		}), nil

	case manifest.DockerV2:
		return lo.Map(m.Layers, func(d manifest.Descriptor, _ int) Layer {
			return Layer{repo: i.repo, desc: d}
		}), nil

	case manifest.OCI:
		layers := make([]Layer, 0, len(m.Layers))
		for _, d := range m.Layers {
			dig, err := digest.Parse(string(d.Digest))
			if err != nil {
				return nil, fmt.Errorf("layer %s: %w", d.Digest, err)
			}
			layers = append(layers, Layer{repo: i.repo, desc: manifest.Descriptor{
				MediaType: string(d.MediaType),
				Size:      d.Size,
				Digest:    dig,
				URLs:      d.URLs,
			}})
		}
		return layers, nil

	case manifest.DockerV2List:
		return nil, fmt.Errorf("%s: %w", i, ErrManifestList)

	default:
		return nil, fmt.Errorf("%s: %w", i, manifest.ErrUnknown)
	}
}
