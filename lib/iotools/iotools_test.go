package iotools

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"io"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// choppyWriter accepts at most limit bytes in total, then refuses everything.
type choppyWriter struct {
	buf   bytes.Buffer
	limit int
}

func (w *choppyWriter) Write(p []byte) (int, error) {
	if w.buf.Len() >= w.limit {
		return 0, errors.New("full")
	}
	if n := w.limit - w.buf.Len(); len(p) > n {
		p = p[:n]
	}
	return w.buf.Write(p)
}

func TestMuxerMirrorsAcceptedPrefix(t *testing.T) {
	primary := &choppyWriter{limit: 7}
	var secondary bytes.Buffer
	mux := NewMuxer(primary, &secondary)

	n, err := mux.Write([]byte("0123456789"))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
	assert.Equal(t, "0123456", secondary.String())

	_, err = mux.Write([]byte("x"))
	require.Error(t, err)
	assert.Equal(t, "0123456", secondary.String())
}

func TestMuxerFullWrite(t *testing.T) {
	var a, b bytes.Buffer
	mux := NewMuxer(&a, &b)

	_, err := io.Copy(mux, bytes.NewReader([]byte("0123456789")))
	require.NoError(t, err)
	assert.Equal(t, "0123456789", a.String())
	assert.Equal(t, "0123456789", b.String())
}

func TestSiphonLaw(t *testing.T) {
	src := []byte("the quick brown fox")
	var observed bytes.Buffer

	out, err := io.ReadAll(NewSiphon(bytes.NewReader(src), &observed))
	require.NoError(t, err)
	assert.Equal(t, src, out)
	assert.Equal(t, src, observed.Bytes())
}

func TestSiphonWriterError(t *testing.T) {
	w := &choppyWriter{limit: 0}
	buf := make([]byte, 4)
	_, err := NewSiphon(bytes.NewReader([]byte("data")), w).Read(buf)
	require.Error(t, err)
}

type sumValidator struct {
	h    []byte
	want [32]byte
}

func (v *sumValidator) Write(p []byte) (int, error) {
	v.h = append(v.h, p...)
	return len(p), nil
}

func (v *sumValidator) Validate() bool {
	return sha256.Sum256(v.h) == v.want
}

func TestValidatorEOF(t *testing.T) {
	body := []byte("layer bytes")

	v := &sumValidator{want: sha256.Sum256(body)}
	out, err := io.ReadAll(NewValidator(bytes.NewReader(body), v))
	require.NoError(t, err)
	assert.Equal(t, body, out)

	// One flipped byte turns end-of-file into an error.
	bad := append([]byte(nil), body...)
	bad[3] ^= 0x01
	v = &sumValidator{want: sha256.Sum256(body)}
	_, err = io.ReadAll(NewValidator(bytes.NewReader(bad), v))
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestThreadedCopies(t *testing.T) {
	src := make([]byte, 1<<20+37)
	_, err := rand.New(rand.NewSource(1)).Read(src)
	require.NoError(t, err)

	tr := NewThreaded(bytes.NewReader(src))
	defer tr.Close()

	out, err := io.ReadAll(tr)
	require.NoError(t, err)
	assert.Equal(t, src, out)
}

type failingReader struct {
	data []byte
	err  error
}

func (r *failingReader) Read(p []byte) (int, error) {
	if len(r.data) == 0 {
		return 0, r.err
	}
	n := copy(p, r.data)
	r.data = r.data[n:]
	return n, nil
}

func TestThreadedPropagatesError(t *testing.T) {
	boom := errors.New("connection reset")
	tr := NewThreaded(&failingReader{data: []byte("partial"), err: boom})
	defer tr.Close()

	out, err := io.ReadAll(tr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, []byte("partial"), out)
}

func TestThreadedCloseJoins(t *testing.T) {
	// Close before draining must not deadlock and must stop the goroutine.
	tr := NewThreaded(bytes.NewReader(make([]byte, 1<<22)))
	buf := make([]byte, 10)
	_, err := tr.Read(buf)
	require.NoError(t, err)
	require.NoError(t, tr.Close())
	require.NoError(t, tr.Close())
}
