// Package digest parses and verifies the content digests that name every
// blob in a registry. A digest is most often written `ALGORITHM:HEX`; bare
// 64-character hex strings are accepted as sha256 for compatibility with
// older manifests.
package digest

import (
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	godigest "github.com/opencontainers/go-digest"
)

// SHA224 is not registered by go-digest out of the box.
const SHA224 = godigest.Algorithm("sha224")

func init() {
	godigest.RegisterAlgorithm(SHA224, crypto.SHA224)
}

var supported = map[godigest.Algorithm]bool{
	SHA224:          true,
	godigest.SHA256: true,
	godigest.SHA384: true,
	godigest.SHA512: true,
}

// Digest is a parsed, immutable content digest. Use Verifier to check a byte
// stream against it.
type Digest struct {
	alg     godigest.Algorithm
	encoded string
}

// Parse parses `ALGO:HEX` (algorithm case-insensitive, hex either case) or a
// bare 64-character hex string, which is taken to be sha256.
func Parse(s string) (Digest, error) {
	var alg godigest.Algorithm
	var enc string

	if i := strings.IndexByte(s, ':'); i >= 0 {
		alg = godigest.Algorithm(strings.ToLower(s[:i]))
		enc = s[i+1:]
	} else if len(s) == 64 {
		alg = godigest.SHA256
		enc = s
	} else {
		return Digest{}, fmt.Errorf("%w: %q", ErrAlgorithm, s)
	}

	if !supported[alg] {
		return Digest{}, fmt.Errorf("%w: %q", ErrAlgorithm, alg)
	}
	if len(enc) != alg.Size()*2 {
		return Digest{}, fmt.Errorf("%w: %d hex digits for %s", ErrLength, len(enc), alg)
	}
	if _, err := hex.DecodeString(enc); err != nil {
		return Digest{}, fmt.Errorf("%w: %q", ErrEncoding, enc)
	}

	return Digest{alg: alg, encoded: strings.ToLower(enc)}, nil
}

// Algorithm returns the digest algorithm tag, e.g. "sha256".
func (d Digest) Algorithm() godigest.Algorithm { return d.alg }

// Encoded returns the lowercase hex expected bytes.
func (d Digest) Encoded() string { return d.encoded }

// IsZero reports whether d is the zero value (never produced by Parse).
func (d Digest) IsZero() bool { return d.alg == "" }

// String renders the canonical `algo:hex` form.
func (d Digest) String() string {
	return string(d.alg) + ":" + d.encoded
}

// Verifier returns a fresh running hash bound to the expected bytes.
func (d Digest) Verifier() *Verifier {
	return &Verifier{digester: d.alg.Digester(), want: d.String()}
}

// UnmarshalJSON decodes a digest from its JSON string form.
func (d *Digest) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// MarshalJSON encodes the canonical string form.
func (d Digest) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// Verifier accumulates bytes and checks them against an expected digest. It
// satisfies iotools.Validatable.
type Verifier struct {
	digester godigest.Digester
	want     string
}

// Write feeds the running hash. It never fails.
func (v *Verifier) Write(p []byte) (int, error) {
	return v.digester.Hash().Write(p)
}

// Validate finalizes a copy of the running state and compares it against the
// expected bytes. The verifier remains usable afterwards.
func (v *Verifier) Validate() bool {
	return v.digester.Digest().String() == v.want
}
