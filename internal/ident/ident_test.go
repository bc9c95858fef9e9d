package ident

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectionRoundTrip(t *testing.T) {
	for _, internal := range []int64{1, 2, 42, 999, 1 << 40} {
		id, err := EncodeCollection(internal)
		require.NoError(t, err)
		assert.True(t, IsSynthetic(id))
		assert.Equal(t, KindCollection, KindOf(id))

		got, err := DecodeCollection(id)
		require.NoError(t, err)
		assert.Equal(t, internal, got)
	}
}

func TestMissingItemRoundTrip(t *testing.T) {
	for _, catalog := range []string{"1", "12345", "603", "tt0133093", "99999999"} {
		id, err := EncodeMissingItem(catalog)
		require.NoError(t, err)
		assert.True(t, IsSynthetic(id))
		assert.Equal(t, KindMissingItem, KindOf(id))

		got, err := DecodeMissingItem(id)
		require.NoError(t, err)
		assert.Equal(t, catalog, got)
	}
}

func TestEncodedIDsNeverLookLikeHostIDs(t *testing.T) {
	// Host entity IDs are positive decimal strings; every synthetic ID must
	// start with '-'.
	id, err := EncodeCollection(7)
	require.NoError(t, err)
	assert.Equal(t, byte('-'), id[0])

	id, err = EncodeMissingItem("550")
	require.NoError(t, err)
	assert.Equal(t, byte('-'), id[0])

	assert.False(t, IsSynthetic("123456"))
	assert.Equal(t, KindHost, KindOf("123456"))
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := []struct {
		name string
		id   string
		err  error
	}{
		{"host id", "1234", ErrNotSynthetic},
		{"empty", "", ErrNotSynthetic},
		{"missing kind", "-800000_550", ErrWrongKind},
		{"not numeric", "-90000x", ErrMalformedID},
		{"below range", "-12", ErrMalformedID},
		{"base itself", "-900000", ErrMalformedID},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeCollection(tc.id)
			assert.ErrorIs(t, err, tc.err)
		})
	}

	_, err := DecodeMissingItem("-900042")
	assert.ErrorIs(t, err, ErrWrongKind)
	_, err = DecodeMissingItem("-800000_")
	assert.ErrorIs(t, err, ErrMalformedID)
	_, err = DecodeMissingItem("-800000_55/x")
	assert.ErrorIs(t, err, ErrMalformedID)
	_, err = DecodeMissingItem("999")
	assert.ErrorIs(t, err, ErrNotSynthetic)
}

func TestEncodeRejectsBadInput(t *testing.T) {
	_, err := EncodeCollection(0)
	assert.ErrorIs(t, err, ErrMalformedID)
	_, err = EncodeCollection(-5)
	assert.ErrorIs(t, err, ErrMalformedID)
	_, err = EncodeMissingItem("")
	assert.ErrorIs(t, err, ErrMalformedID)
	_, err = EncodeMissingItem("12_34")
	assert.ErrorIs(t, err, ErrMalformedID)
}
