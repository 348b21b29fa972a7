// Package canon implements the two canonical, deterministic encodings the
// rest of the module builds on: canonical JSON (Marshal, Canonicalize,
// CanonicalValue) for identity documents and attestations
// (human-inspectable, git-diff-friendly) and canonical CBOR (EncodeCBOR,
// DecodeCBOR) for wire framing (compact, binary-safe).
//
// Both follow the teacher's canonicalization discipline: there is a single
// choke point (Canonicalize / EncodeCBOR) that every hashing, signing, and
// verification path is required to go through, and canonicality of
// untrusted input is checked by re-deriving canonical bytes and comparing,
// not by inspecting the input for "looks canonical enough".
package canon

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/octofork/radlink/errtax"
)

// Marshal renders v as canonical JSON: compact (no insignificant
// whitespace), object members are emitted in the order encoding/json
// already guarantees (sorted map keys, declared struct field order), no
// trailing newline, and no escaping beyond what JSON requires. The angle
// brackets, ampersand, and the Unicode line and paragraph separators are
// emitted as literal UTF-8 rather than as a backslash-u escape, matching
// spec.md §4.1's rule that only control characters are escaped and
// everything else is UTF-8 literal. Plain json.Marshal defaults to
// HTML-safe escaping of those brackets and the ampersand, and escapes the
// line/paragraph separators unconditionally with no SetEscapeHTML knob to
// turn that off, so this goes through json.Encoder with HTML escaping
// disabled and then undoes the line/paragraph separator escapes by hand.
//
// encoding/json already sorts map[string]T keys and preserves struct field
// declaration order, which is sufficient determinism for our purposes; this
// wrapper exists as the single choke point every caller in this module goes
// through, mirroring the teacher's CanonicalizeCATF discipline.
func Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	b := bytes.TrimSuffix(buf.Bytes(), []byte("\n"))
	return unescapeLineSeparators(b), nil
}

// unescapeLineSeparators walks b token by token, turning the six-byte
// escape sequences encoding/json always emits for the line and paragraph
// separator runes back into their literal 3-byte UTF-8 form. It is a
// sequential pass rather than a substring replace so that a string whose
// *content* is itself that literal six-character escape text (which
// json.Marshal would render as an escaped backslash followed by the plain
// text) is never mistaken for a real escape: every backslash this loop
// sees is the first byte of exactly one token, since each branch below
// advances by that whole token's length before looking for the next one.
func unescapeLineSeparators(b []byte) []byte {
	out := make([]byte, 0, len(b))
	for i := 0; i < len(b); {
		if b[i] != '\\' || i+1 >= len(b) {
			out = append(out, b[i])
			i++
			continue
		}
		if b[i+1] != 'u' || i+6 > len(b) {
			out = append(out, b[i], b[i+1])
			i += 2
			continue
		}
		switch string(b[i+2 : i+6]) {
		case "2028":
			out = append(out, 0xE2, 0x80, 0xA8)
			i += 6
		case "2029":
			out = append(out, 0xE2, 0x80, 0xA9)
			i += 6
		default:
			out = append(out, b[i:i+6]...)
			i += 6
		}
	}
	return out
}

// Canonicalize verifies that data is canonical JSON for the shape T by
// decoding it into T, re-encoding, and byte-comparing the result against
// data. It returns the parsed value and the (equal) canonical bytes, or an
// errtax.Malformed error giving the byte lengths of the input and of its
// canonical form.
func Canonicalize[T any](data []byte) (T, []byte, error) {
	var v T
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	dec.DisallowUnknownFields()
	if err := dec.Decode(&v); err != nil {
		var zero T
		return zero, nil, errtax.Wrap(errtax.Malformed, "CANON-JSON-PARSE", "invalid JSON", err)
	}

	// Byte-comparing the re-encoded canonical form against the full input
	// (rather than just the bytes Decode consumed) catches trailing
	// whitespace, a trailing newline, or garbage after the value in one
	// step; Decode alone would silently ignore any of those.
	want, err := Marshal(v)
	if err != nil {
		var zero T
		return zero, nil, errtax.Wrap(errtax.Malformed, "CANON-JSON-REENCODE", "value does not re-encode", err)
	}
	if !bytes.Equal(want, data) {
		var zero T
		return zero, nil, errtax.New(errtax.Malformed, "CANON-JSON-NONCANONICAL",
			fmt.Sprintf("input is not canonical JSON: got %d bytes, canonical form is %d bytes", len(data), len(want)))
	}
	return v, want, nil
}

// CanonicalValue checks that data is canonical JSON for an arbitrary,
// statically-unknown value shape — an object, array, string, number,
// bool, or null — the same contract as Canonicalize but for payloads
// whose schema this module does not itself define (an identity
// document's payload entries, tagged only by a URL key). Numbers that
// are fractional, use exponent notation, or aren't finite fail, per
// spec.md §4.1's "integers only" rule; object member order, duplicate
// members, and escaping are all caught the same way Canonicalize catches
// them for a typed value: by re-deriving canonical bytes and comparing.
func CanonicalValue(data []byte) ([]byte, error) {
	var v any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&v); err != nil {
		return nil, errtax.Wrap(errtax.Malformed, "CANON-JSON-VALUE-PARSE", "invalid JSON value", err)
	}
	if err := rejectNonIntegerNumbers(v); err != nil {
		return nil, err
	}
	want, err := Marshal(v)
	if err != nil {
		return nil, errtax.Wrap(errtax.Malformed, "CANON-JSON-VALUE-REENCODE", "value does not re-encode", err)
	}
	if !bytes.Equal(want, data) {
		return nil, errtax.New(errtax.Malformed, "CANON-JSON-VALUE-NONCANONICAL",
			fmt.Sprintf("value is not canonical JSON: got %d bytes, canonical form is %d bytes", len(data), len(want)))
	}
	return want, nil
}

func rejectNonIntegerNumbers(v any) error {
	switch vv := v.(type) {
	case json.Number:
		if strings.ContainsAny(vv.String(), ".eE") {
			return errtax.New(errtax.Malformed, "CANON-JSON-VALUE-FRACTIONAL", fmt.Sprintf("number %q is not an integer", vv.String()))
		}
	case map[string]any:
		for _, e := range vv {
			if err := rejectNonIntegerNumbers(e); err != nil {
				return err
			}
		}
	case []any:
		for _, e := range vv {
			if err := rejectNonIntegerNumbers(e); err != nil {
				return err
			}
		}
	}
	return nil
}
