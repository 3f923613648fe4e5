// Package registry is a minimal client for the Docker/OCI distribution
// protocol: reference parsing, bearer-token authentication, and the three
// read endpoints (tags/list, manifests, blobs).
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/distribution/reference"

	"github.com/onkernel/wyrcan/lib/manifest"
)

const defaultTag = "latest"

// hostAliases maps display hosts to the hosts actually dialed. Display
// prefers the shorter side.
var hostAliases = [][2]string{
	{"docker.io", "registry.hub.docker.com"},
}

// challengeRe extracts the key="value" pairs of a Www-Authenticate header.
var challengeRe = regexp.MustCompile(`([a-z]+)="([^"]*)"`)

// Repository is one repository on one registry. It is cheap to copy; clones
// share the HTTP client and its connection pool.
type Repository struct {
	client *http.Client
	host   string
	path   string
}

// Option configures a Repository.
type Option func(*Repository)

// WithClient substitutes the HTTP client, e.g. to set timeouts or trust test
// certificates.
func WithClient(c *http.Client) Option {
	return func(r *Repository) { r.client = c }
}

// NewRepository parses an image reference of the form
// [host/]path[:tag|@digest] and returns the repository together with the
// selector (tag or digest; "latest" when absent).
func NewRepository(name string, opts ...Option) (*Repository, string, error) {
	stripped, selector := splitSelector(name)

	named, err := reference.ParseNormalizedNamed(stripped)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %q: %v", ErrReference, name, err)
	}

	host := reference.Domain(named)
	for _, alias := range hostAliases {
		if host == alias[0] {
			host = alias[1]
			break
		}
	}

	repo := &Repository{
		client: &http.Client{},
		host:   host,
		path:   reference.Path(named),
	}
	for _, opt := range opts {
		opt(repo)
	}
	return repo, selector, nil
}

// splitSelector removes a trailing :tag or @digest. A separator only counts
// when it comes after the last path slash, so registry ports are untouched.
// @ wins over :, so name:tag@digest selects the full digest string.
func splitSelector(s string) (string, string) {
	sep := strings.LastIndexByte(s, '/')
	col := strings.LastIndexByte(s, ':')
	at := strings.LastIndexByte(s, '@')

	if at > sep {
		return s[:at], s[at+1:]
	}
	if col > sep {
		return s[:col], s[col+1:]
	}
	return s, defaultTag
}

// String renders the display form, preferring the short host alias.
func (r *Repository) String() string {
	host := r.host
	for _, alias := range hostAliases {
		if host == alias[1] && len(alias[1]) > len(alias[0]) {
			host = alias[0]
			break
		}
	}
	return host + "/" + r.path
}

// Tags lists the repository's tags.
func (r *Repository) Tags(ctx context.Context) ([]string, error) {
	resp, err := r.get(ctx, "tags/list", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var tags struct {
		Name string   `json:"name"`
		Tags []string `json:"tags"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return nil, fmt.Errorf("parse tag list: %w", err)
	}
	return tags.Tags, nil
}

// Image fetches and decodes the manifest behind the given tag or digest.
func (r *Repository) Image(ctx context.Context, selector string) (*Image, error) {
	return newImage(ctx, r, selector)
}

// get performs an authenticated GET below the repository's /v2 base. A 401
// with a Www-Authenticate challenge triggers one bearer-token exchange and
// one retry; any further 401 surfaces to the caller.
func (r *Repository) get(ctx context.Context, p string, headers map[string]string) (*http.Response, error) {
	u := fmt.Sprintf("https://%s/v2/%s/%s", r.host, r.path, p)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", p, err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return resp, nil

	case resp.StatusCode == http.StatusUnauthorized && headers["Authorization"] == "":
		challenge := resp.Header.Get("Www-Authenticate")
		drain(resp)
		if challenge == "" {
			break
		}

		token, err := r.auth(ctx, challenge)
		if err != nil {
			return nil, err
		}

		retry := make(map[string]string, len(headers)+1)
		for k, v := range headers {
			retry[k] = v
		}
		retry["Authorization"] = token
		return r.get(ctx, p, retry)

	default:
		drain(resp)
	}

	return nil, fmt.Errorf("get %s: %w: %s", p, ErrStatus, resp.Status)
}

// auth runs the bearer-token exchange described by a Www-Authenticate
// challenge: every key="value" pair except realm becomes a query parameter of
// a GET against the realm, whose JSON body carries the token.
func (r *Repository) auth(ctx context.Context, challenge string) (string, error) {
	params := map[string]string{}
	for _, m := range challengeRe.FindAllStringSubmatch(challenge, -1) {
		params[m[1]] = m[2]
	}

	realm, ok := params["realm"]
	if !ok {
		return "", fmt.Errorf("%w: challenge has no realm: %q", ErrAuth, challenge)
	}
	delete(params, "realm")

	u, err := url.Parse(realm)
	if err != nil {
		return "", fmt.Errorf("%w: bad realm %q: %v", ErrAuth, realm, err)
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrAuth, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: token endpoint returned %s", ErrAuth, resp.Status)
	}

	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("%w: bad token body: %v", ErrAuth, err)
	}
	if body.Token == "" {
		return "", fmt.Errorf("%w: empty token", ErrAuth)
	}
	return "Bearer " + body.Token, nil
}

// drain consumes and closes a response body so the connection can be reused.
func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}

// acceptHeaders is the header set sent on manifest requests.
func acceptHeaders() map[string]string {
	return map[string]string{"Accept": manifest.AcceptHeader}
}
