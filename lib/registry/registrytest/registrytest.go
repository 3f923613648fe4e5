// Package registrytest runs a tiny read-only distribution registry over
// httptest TLS, just enough protocol for the client: tags/list, manifests by
// tag or digest, and blobs by digest.
package registrytest

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// Entry describes one tar entry of a test layer.
type Entry struct {
	Name         string
	Type         byte // tar.Type*; zero means regular file
	Mode         int64
	Link         string
	Body         []byte
	Major, Minor int64
}

// TarGz builds a gzipped tar layer from the given entries.
func TarGz(t *testing.T, entries ...Entry) []byte {
	t.Helper()

	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)

	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.Name,
			Typeflag: e.Type,
			Mode:     e.Mode,
			Linkname: e.Link,
			Size:     int64(len(e.Body)),
			Devmajor: e.Major,
			Devminor: e.Minor,
		}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write tar header %s: %v", e.Name, err)
		}
		if _, err := tw.Write(e.Body); err != nil {
			t.Fatalf("write tar body %s: %v", e.Name, err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

// Digest returns the canonical sha256 digest of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return "sha256:" + hex.EncodeToString(sum[:])
}

// Server is a fake registry holding one image.
type Server struct {
	*httptest.Server

	// Host is the reference host, e.g. 127.0.0.1:42123.
	Host string
	// ManifestDigest addresses the served manifest.
	ManifestDigest string

	repo string
	tag  string
}

type option func(*config)

type config struct {
	tags        []string
	corruptions map[string][]byte // digest -> substituted body
}

// WithTags sets the tags/list response.
func WithTags(tags ...string) option {
	return func(c *config) { c.tags = tags }
}

// WithCorruptBlob serves body instead of the real bytes for the blob that
// was registered under digest, without touching the manifest.
func WithCorruptBlob(digest string, body []byte) option {
	return func(c *config) {
		c.corruptions[digest] = body
	}
}

// NewServer serves repo:tag as a Docker v2 manifest over the given gzipped
// tar layers, base layer first.
func NewServer(t *testing.T, repo, tag string, layers [][]byte, opts ...option) *Server {
	t.Helper()

	cfg := &config{tags: []string{tag}, corruptions: map[string][]byte{}}
	for _, opt := range opts {
		opt(cfg)
	}

	blobs := map[string][]byte{}

	configBlob := []byte(`{"architecture":"amd64","os":"linux"}`)
	blobs[Digest(configBlob)] = configBlob

	type desc struct {
		MediaType string `json:"mediaType"`
		Size      int64  `json:"size"`
		Digest    string `json:"digest"`
	}
	man := struct {
		SchemaVersion int    `json:"schemaVersion"`
		MediaType     string `json:"mediaType"`
		Config        desc   `json:"config"`
		Layers        []desc `json:"layers"`
	}{
		SchemaVersion: 2,
		MediaType:     "application/vnd.docker.distribution.manifest.v2+json",
		Config: desc{
			MediaType: "application/vnd.docker.container.image.v1+json",
			Size:      int64(len(configBlob)),
			Digest:    Digest(configBlob),
		},
	}

	for _, layer := range layers {
		dig := Digest(layer)
		blobs[dig] = layer
		man.Layers = append(man.Layers, desc{
			MediaType: "application/vnd.docker.image.rootfs.diff.tar.gzip",
			Size:      int64(len(layer)),
			Digest:    dig,
		})
	}

	for dig, body := range cfg.corruptions {
		if _, ok := blobs[dig]; !ok {
			t.Fatalf("no blob %s to corrupt", dig)
		}
		blobs[dig] = body
	}

	manBody, err := json.Marshal(man)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	manDigest := Digest(manBody)

	mux := http.NewServeMux()
	base := "/v2/" + repo + "/"

	mux.HandleFunc(base+"tags/list", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"name": repo, "tags": cfg.tags})
	})
	mux.HandleFunc(base+"manifests/", func(w http.ResponseWriter, r *http.Request) {
		sel := strings.TrimPrefix(r.URL.Path, base+"manifests/")
		if sel != tag && sel != manDigest {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", man.MediaType)
		w.Header().Set("Docker-Content-Digest", manDigest)
		w.Write(manBody)
	})
	mux.HandleFunc(base+"blobs/", func(w http.ResponseWriter, r *http.Request) {
		dig := strings.TrimPrefix(r.URL.Path, base+"blobs/")
		body, ok := blobs[dig]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Write(body)
	})

	srv := httptest.NewTLSServer(mux)
	t.Cleanup(srv.Close)

	return &Server{
		Server:         srv,
		Host:           strings.TrimPrefix(srv.URL, "https://"),
		ManifestDigest: manDigest,
		repo:           repo,
		tag:            tag,
	}
}

// Reference returns the image reference clients should parse.
func (s *Server) Reference() string {
	return s.Host + "/" + s.repo + ":" + s.tag
}
