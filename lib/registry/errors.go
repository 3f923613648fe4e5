package registry

import "errors"

var (
	// ErrReference reports an image reference that could not be parsed.
	ErrReference = errors.New("invalid image reference")
	// ErrStatus reports an unexpected HTTP status from the registry.
	ErrStatus = errors.New("unexpected registry status")
	// ErrAuth reports a failed bearer-token exchange.
	ErrAuth = errors.New("registry authentication failed")
	// ErrManifestList is returned when layers are enumerated on a manifest
	// list; the caller must resolve a concrete per-platform manifest first.
	ErrManifestList = errors.New("manifest list has no layers; resolve a platform manifest first")
	// ErrSizeMismatch reports a blob whose Content-Length contradicts the
	// manifest descriptor.
	ErrSizeMismatch = errors.New("blob size mismatch")
	// ErrMediaType reports a layer media type this tool cannot decompress.
	ErrMediaType = errors.New("unknown layer media type")
)
