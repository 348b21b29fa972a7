package canon

import (
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/octofork/radlink/errtax"
)

var (
	cborEncMode cbor.EncMode
	cborEncOnce sync.Once

	cborDecMode cbor.DecMode
	cborDecOnce sync.Once
)

// cborEnc lazily builds the canonical (RFC 7049 §3.9) CBOR encode mode
// once, matching the struct-tag convention (`cbor:"<n>,keyasint"`) used
// across the reference pack for wire messages.
func cborEnc() cbor.EncMode {
	cborEncOnce.Do(func() {
		em, err := cbor.CanonicalEncOptions().EncMode()
		if err != nil {
			panic(err)
		}
		cborEncMode = em
	})
	return cborEncMode
}

// cborDec lazily builds a decode mode that rejects duplicate map keys
// instead of silently keeping the last one, the decode-side half of
// canonical CBOR: a map with a repeated key was never produced by
// cborEnc, so accepting one on decode would let a malformed or
// adversarial peer smuggle ambiguous input past every caller that
// trusts its map fields are the whole story.
func cborDec() cbor.DecMode {
	cborDecOnce.Do(func() {
		dm, err := cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
		if err != nil {
			panic(err)
		}
		cborDecMode = dm
	})
	return cborDecMode
}

// EncodeCBOR renders v as canonical (deterministic map ordering) CBOR.
func EncodeCBOR(v any) ([]byte, error) {
	b, err := cborEnc().Marshal(v)
	if err != nil {
		return nil, errtax.Wrap(errtax.Malformed, "CANON-CBOR-ENCODE", "cbor encode failed", err)
	}
	return b, nil
}

// DecodeCBOR decodes CBOR bytes into a T, rejecting input whose maps
// contain duplicate keys.
func DecodeCBOR[T any](data []byte) (T, error) {
	var v T
	if err := cborDec().Unmarshal(data, &v); err != nil {
		var zero T
		return zero, errtax.Wrap(errtax.Malformed, "CANON-CBOR-DECODE", "cbor decode failed", err)
	}
	return v, nil
}
