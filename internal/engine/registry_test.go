package engine

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	taxierrors "github.com/taxidash/taxidash/internal/errors"
)

func TestRegistry_RoundTrip(t *testing.T) {
	data := bytes.Repeat([]byte("green taxi trip "), 512)

	for _, compress := range []bool{false, true} {
		r := NewRegistry(compress)
		info, err := r.Register("green_Y2023M01", data)
		require.NoError(t, err)
		assert.Equal(t, len(data), info.Size)
		if compress {
			assert.Less(t, info.StoredSize, info.Size, "repetitive data should compress")
		} else {
			assert.Equal(t, info.Size, info.StoredSize)
		}

		got, err := r.Get("green_Y2023M01")
		require.NoError(t, err)
		assert.Equal(t, data, got)
	}
}

func TestRegistry_Fingerprint(t *testing.T) {
	r := NewRegistry(false)
	a, err := r.Register("a", []byte("same"))
	require.NoError(t, err)
	b, err := r.Register("b", []byte("same"))
	require.NoError(t, err)
	c, err := r.Register("c", []byte("different"))
	require.NoError(t, err)

	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}

func TestRegistry_DuplicateAndOrder(t *testing.T) {
	r := NewRegistry(false)
	for _, k := range []string{"m03", "m01", "m02"} {
		_, err := r.Register(k, []byte(k))
		require.NoError(t, err)
	}

	_, err := r.Register("m01", []byte("again"))
	assert.True(t, errors.Is(err, taxierrors.ErrDuplicateRegistration))
	assert.Equal(t, []string{"m03", "m01", "m02"}, r.Keys())

	_, err = r.Register("", []byte("x"))
	assert.Equal(t, taxierrors.CodeInvalidIdentifier, taxierrors.GetCode(err))
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(true)
	for _, k := range []string{"a", "b", "c"} {
		_, err := r.Register(k, []byte(k))
		require.NoError(t, err)
	}

	r.Unregister("b", "nope")
	assert.Equal(t, []string{"a", "c"}, r.Keys())
	assert.False(t, r.Has("b"))

	_, err := r.Get("b")
	assert.Equal(t, taxierrors.CodeBufferNotFound, taxierrors.GetCode(err))

	// The key is free again.
	_, err = r.Register("b", []byte("b2"))
	assert.NoError(t, err)

	r.Reset()
	assert.Empty(t, r.Keys())
	assert.Zero(t, r.StoredBytes())
}
