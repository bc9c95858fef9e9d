// Package ident encodes synthetic entity identities into the host's numeric
// ID namespace and back. Host entity IDs are positive decimal strings, so
// every synthetic ID is rendered negative: a virtual collection becomes
// -(collectionBase + internalID) and a missing catalog entry becomes
// "-800000_<catalogID>". The two forms are disjoint from each other (the
// underscore) and from every real host ID (the sign), so a synthetic ID can
// never collide with an entity the host actually owns.
package ident

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	// collectionBase offsets virtual-collection IDs into their own numeric
	// subrange. Internal IDs start at 1, so encoded values are < -900000.
	collectionBase = 900000

	// missingPrefix marks a missing-item placeholder ID. The catalog ID
	// follows the underscore verbatim.
	missingPrefix = "-800000_"
)

var (
	// ErrNotSynthetic is returned when a decode is attempted on an ID that
	// does not belong to the synthetic namespace at all.
	ErrNotSynthetic = errors.New("ident: not a synthetic id")

	// ErrWrongKind is returned when an ID is synthetic but of the other kind.
	ErrWrongKind = errors.New("ident: synthetic id of wrong kind")

	// ErrMalformedID is returned for input that cannot round-trip: decoding
	// it would produce a value a later encode could not reproduce.
	ErrMalformedID = errors.New("ident: malformed id")
)

// Kind classifies an ID string.
type Kind int

const (
	KindHost        Kind = iota // real host entity (or at least not ours)
	KindCollection              // virtual collection
	KindMissingItem             // missing-item placeholder
)

// IsSynthetic reports whether id was minted by this system. Host entity IDs
// are never negative, so the sign alone is decisive.
func IsSynthetic(id string) bool {
	return strings.HasPrefix(id, "-")
}

// KindOf classifies id without decoding it.
func KindOf(id string) Kind {
	switch {
	case strings.HasPrefix(id, missingPrefix):
		return KindMissingItem
	case IsSynthetic(id):
		return KindCollection
	default:
		return KindHost
	}
}

// EncodeCollection maps a store-internal collection ID to its synthetic host
// ID. internalID must be positive; the mapping is injective over that domain.
func EncodeCollection(internalID int64) (string, error) {
	if internalID <= 0 {
		return "", fmt.Errorf("%w: collection internal id %d", ErrMalformedID, internalID)
	}
	return strconv.FormatInt(-(collectionBase + internalID), 10), nil
}

// DecodeCollection reverses EncodeCollection. It rejects host IDs,
// missing-item IDs and any negative value outside the collection subrange.
func DecodeCollection(id string) (int64, error) {
	if !IsSynthetic(id) {
		return 0, ErrNotSynthetic
	}
	if strings.HasPrefix(id, missingPrefix) {
		return 0, ErrWrongKind
	}
	n, err := strconv.ParseInt(id, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	internal := -n - collectionBase
	if internal <= 0 {
		return 0, fmt.Errorf("%w: %q outside collection range", ErrMalformedID, id)
	}
	return internal, nil
}

// EncodeMissingItem maps an external catalog ID to a synthetic placeholder
// ID. The catalog ID must be non-empty and alphanumeric; that keeps the
// encoding injective and the decode unambiguous.
func EncodeMissingItem(catalogID string) (string, error) {
	if !validCatalogID(catalogID) {
		return "", fmt.Errorf("%w: catalog id %q", ErrMalformedID, catalogID)
	}
	return missingPrefix + catalogID, nil
}

// DecodeMissingItem reverses EncodeMissingItem.
func DecodeMissingItem(id string) (string, error) {
	if !IsSynthetic(id) {
		return "", ErrNotSynthetic
	}
	rest, ok := strings.CutPrefix(id, missingPrefix)
	if !ok {
		return "", ErrWrongKind
	}
	if !validCatalogID(rest) {
		return "", fmt.Errorf("%w: %q", ErrMalformedID, id)
	}
	return rest, nil
}

func validCatalogID(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		default:
			return false
		}
	}
	return true
}
