// Package manifest models the four manifest documents a registry can return
// for an image: Docker schema 1, Docker schema 2, the Docker manifest list,
// and OCI v1. Which one a body decodes into is decided by the response
// Content-Type when the registry sets it, falling back to structural matching.
package manifest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/go-containerregistry/pkg/v1/types"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/onkernel/wyrcan/lib/digest"
)

// AcceptHeader is sent on manifest requests to negotiate a concrete variant.
var AcceptHeader = strings.Join([]string{
	string(types.DockerManifestSchema1),
	string(types.DockerManifestSchema2),
	string(types.DockerManifestList),
	string(types.OCIManifestSchema1),
}, ", ")

// Manifest is the sum over the supported manifest documents.
type Manifest interface {
	isManifest()
}

// Descriptor references one blob: its media type, size, digest and any
// alternate URLs.
type Descriptor struct {
	MediaType string        `json:"mediaType,omitempty"`
	Size      int64         `json:"size"`
	Digest    digest.Digest `json:"digest"`
	URLs      []string      `json:"urls,omitempty"`
}

// DockerV1 is the legacy schema 1 manifest. Only the layer digests matter;
// sizes and media types are synthesized by the caller.
type DockerV1 struct {
	SchemaVersion int       `json:"schemaVersion"`
	Name          string    `json:"name"`
	Tag           string    `json:"tag"`
	Architecture  string    `json:"architecture"`
	FSLayers      []V1Layer `json:"fsLayers"`
}

// V1Layer is a schema 1 layer reference.
type V1Layer struct {
	BlobSum digest.Digest `json:"blobSum"`
}

// DockerV2 is the schema 2 image manifest.
type DockerV2 struct {
	SchemaVersion int          `json:"schemaVersion"`
	MediaType     string       `json:"mediaType,omitempty"`
	Config        Descriptor   `json:"config"`
	Layers        []Descriptor `json:"layers"`
}

// Platform qualifies a manifest-list entry.
type Platform struct {
	Architecture string   `json:"architecture"`
	OS           string   `json:"os"`
	OSVersion    string   `json:"os.version,omitempty"`
	OSFeatures   []string `json:"os.features,omitempty"`
	Variant      string   `json:"variant,omitempty"`
	Features     []string `json:"features,omitempty"`
}

// ListItem points at one platform-specific manifest.
type ListItem struct {
	MediaType string        `json:"mediaType,omitempty"`
	Size      int64         `json:"size"`
	Digest    digest.Digest `json:"digest"`
	Platform  Platform      `json:"platform"`
}

// DockerV2List is a multi-platform manifest list. OCI image indexes decode
// into this variant too; both must be resolved to a concrete manifest before
// layers can be enumerated.
type DockerV2List struct {
	SchemaVersion int        `json:"schemaVersion"`
	MediaType     string     `json:"mediaType,omitempty"`
	Manifests     []ListItem `json:"manifests"`
}

// OCI is an OCI v1 image manifest.
type OCI struct {
	ocispec.Manifest
}

func (DockerV1) isManifest()     {}
func (DockerV2) isManifest()     {}
func (DockerV2List) isManifest() {}
func (OCI) isManifest()          {}

// Decode parses a manifest body. The contentType, when recognized, picks the
// variant; otherwise the body shape decides, trying the variants in the same
// order the original untagged match did.
func Decode(contentType string, body []byte) (Manifest, error) {
	if i := strings.IndexByte(contentType, ';'); i >= 0 {
		contentType = strings.TrimSpace(contentType[:i])
	}

	switch types.MediaType(contentType) {
	case types.DockerManifestSchema1, types.DockerManifestSchema1Signed:
		return decodeInto[DockerV1](body)
	case types.DockerManifestSchema2:
		return decodeInto[DockerV2](body)
	case types.DockerManifestList, types.OCIImageIndex:
		return decodeInto[DockerV2List](body)
	case types.OCIManifestSchema1:
		return decodeInto[OCI](body)
	}

	return decodeStructural(body)
}

func decodeInto[M Manifest](body []byte) (Manifest, error) {
	var m M
	if err := json.Unmarshal(body, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	return m, nil
}

// decodeStructural distinguishes the variants by their required fields when
// the registry did not advertise a usable media type.
func decodeStructural(body []byte) (Manifest, error) {
	var probe struct {
		MediaType string          `json:"mediaType"`
		FSLayers  json.RawMessage `json:"fsLayers"`
		Manifests json.RawMessage `json:"manifests"`
		Config    json.RawMessage `json:"config"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	switch {
	case probe.FSLayers != nil:
		return decodeInto[DockerV1](body)
	case probe.Manifests != nil:
		return decodeInto[DockerV2List](body)
	case probe.Config != nil:
		if types.MediaType(probe.MediaType) == types.OCIManifestSchema1 {
			return decodeInto[OCI](body)
		}
		return decodeInto[DockerV2](body)
	}

	return nil, fmt.Errorf("%w: media type %q", ErrUnknown, probe.MediaType)
}
