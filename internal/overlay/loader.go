package overlay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
)

// WarnFunc receives a human-readable warning for one overlay record that
// failed validation and was skipped. Callers typically wire this to a
// logger's validation channel.
type WarnFunc func(format string, args ...interface{})

const requiredSlurmVersion = 1

type rawDocument struct {
	SlurmVersion            int64          `json:"slurmVersion"`
	ValidationOutputFilters *rawFilters    `json:"validationOutputFilters"`
	LocallyAddedAssertions  *rawAssertions `json:"locallyAddedAssertions"`
}

// PrefixFilters/BGPsecFilters (and their Assertions counterparts) are kept
// as raw messages, not []rawPrefix/[]rawBGPsec: decoding each element
// independently means a type error in one array element can't fail the
// unmarshal of its sibling elements or of the document as a whole (see
// loadPrefixArray/loadBGPsecArray).
type rawFilters struct {
	PrefixFilters []json.RawMessage `json:"prefixFilters"`
	BGPsecFilters []json.RawMessage `json:"bgpsecFilters"`
	hasPrefix     bool
	hasBGPsec     bool
}

type rawAssertions struct {
	PrefixAssertions []json.RawMessage `json:"prefixAssertions"`
	BGPsecAssertions []json.RawMessage `json:"bgpsecAssertions"`
	hasPrefix        bool
	hasBGPsec        bool
}

type rawPrefix struct {
	Prefix          string `json:"prefix"`
	ASN             int64  `json:"asn"`
	MaxPrefixLength int    `json:"maxPrefixLength"`
	Comment         string `json:"comment"`
}

type rawBGPsec struct {
	ASN             int64  `json:"asn"`
	SKI             string `json:"SKI"`
	RouterPublicKey string `json:"routerPublicKey"`
	Comment         string `json:"comment"`
}

// UnmarshalJSON records whether prefixFilters/bgpsecFilters were present at
// all, distinct from present-but-empty, since spec.md §4.6 requires the
// arrays to exist (they may be empty).
func (f *rawFilters) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, f.hasPrefix = probe["prefixFilters"]
	_, f.hasBGPsec = probe["bgpsecFilters"]

	type alias rawFilters
	return json.Unmarshal(data, (*alias)(f))
}

func (a *rawAssertions) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	_, a.hasPrefix = probe["prefixAssertions"]
	_, a.hasBGPsec = probe["bgpsecAssertions"]

	type alias rawAssertions
	return json.Unmarshal(data, (*alias)(a))
}

// Load reads and parses the overlay document at path. path == "" is a
// no-op, returning (nil, nil), matching spec.md §6's "no-op when
// overlay_location is unset". A malformed document (bad JSON, duplicate
// object keys, wrong slurmVersion, missing required members) fails the
// whole load; an individual malformed record within an array is reported
// via warn and skipped without failing the load.
func Load(path string, warn WarnFunc) (*Document, error) {
	if path == "" {
		return nil, nil
	}
	if warn == nil {
		warn = func(string, ...interface{}) {}
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("overlay: read %s: %w", path, err)
	}

	if err := checkNoDuplicateKeys(body); err != nil {
		return nil, fmt.Errorf("overlay: %s: %w", path, err)
	}

	var raw rawDocument
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("overlay: %s: %w", path, err)
	}

	if raw.SlurmVersion != requiredSlurmVersion {
		return nil, fmt.Errorf("overlay: %s: slurmVersion must be %d, got %d", path, requiredSlurmVersion, raw.SlurmVersion)
	}
	if raw.ValidationOutputFilters == nil {
		return nil, fmt.Errorf("overlay: %s: validationOutputFilters is required", path)
	}
	if raw.LocallyAddedAssertions == nil {
		return nil, fmt.Errorf("overlay: %s: locallyAddedAssertions is required", path)
	}
	f, a := raw.ValidationOutputFilters, raw.LocallyAddedAssertions
	if !f.hasPrefix {
		return nil, fmt.Errorf("overlay: %s: prefixFilters is required", path)
	}
	if !f.hasBGPsec {
		return nil, fmt.Errorf("overlay: %s: bgpsecFilters is required", path)
	}
	if !a.hasPrefix {
		return nil, fmt.Errorf("overlay: %s: prefixAssertions is required", path)
	}
	if !a.hasBGPsec {
		return nil, fmt.Errorf("overlay: %s: bgpsecAssertions is required", path)
	}

	doc := &Document{}
	doc.PrefixFilters = loadPrefixArray(f.PrefixFilters, ModeFilter, warn)
	doc.BGPsecFilters = loadBGPsecArray(f.BGPsecFilters, ModeFilter, warn)
	doc.PrefixAssertions = loadPrefixArray(a.PrefixAssertions, ModeAssertion, warn)
	doc.BGPsecAssertions = loadBGPsecArray(a.BGPsecAssertions, ModeAssertion, warn)

	return doc, nil
}

func loadPrefixArray(raws []json.RawMessage, mode Mode, warn WarnFunc) []PrefixRecord {
	out := make([]PrefixRecord, 0, len(raws))
	for i, rawBytes := range raws {
		var r rawPrefix
		if err := json.Unmarshal(rawBytes, &r); err != nil {
			warn("overlay: prefix %s element %d ignored: %v", mode, i+1, err)
			continue
		}
		rec, err := parsePrefixRecord(r, mode)
		if err != nil {
			warn("overlay: prefix %s element %d ignored: %v", mode, i+1, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func loadBGPsecArray(raws []json.RawMessage, mode Mode, warn WarnFunc) []BGPsecRecord {
	out := make([]BGPsecRecord, 0, len(raws))
	for i, rawBytes := range raws {
		var r rawBGPsec
		if err := json.Unmarshal(rawBytes, &r); err != nil {
			warn("overlay: bgpsec %s element %d ignored: %v", mode, i+1, err)
			continue
		}
		rec, err := parseBGPsecRecord(r, mode)
		if err != nil {
			warn("overlay: bgpsec %s element %d ignored: %v", mode, i+1, err)
			continue
		}
		out = append(out, rec)
	}
	return out
}

func parsePrefixRecord(r rawPrefix, mode Mode) (PrefixRecord, error) {
	rec := PrefixRecord{Mode: mode}
	isAssertion := mode == ModeAssertion

	if r.ASN != 0 {
		asn, err := validateASN(r.ASN)
		if err != nil {
			return PrefixRecord{}, err
		}
		rec.ASN = asn
		rec.Presence |= PrefixHasASN
	} else if isAssertion {
		return PrefixRecord{}, fmt.Errorf("overlay: ASN is required for a prefix assertion")
	}

	if r.Prefix != "" {
		prefix, family, err := parsePrefix(r.Prefix)
		if err != nil {
			return PrefixRecord{}, err
		}
		rec.Prefix = prefix
		rec.Family = family
		rec.Presence |= PrefixHasPrefix
	} else if isAssertion {
		return PrefixRecord{}, fmt.Errorf("overlay: prefix is required for a prefix assertion")
	}

	if r.Comment != "" {
		rec.Comment = r.Comment
		rec.Presence |= PrefixHasComment
	}

	// maxPrefixLength is ignored entirely for filters.
	if isAssertion && r.MaxPrefixLength != 0 {
		if err := validateMaxPrefixLength(rec.Family, rec.Prefix.Bits(), r.MaxPrefixLength); err != nil {
			return PrefixRecord{}, err
		}
		rec.MaxPrefixLength = r.MaxPrefixLength
		rec.Presence |= PrefixHasMaxPrefixLength
	}

	return rec, nil
}

func parseBGPsecRecord(r rawBGPsec, mode Mode) (BGPsecRecord, error) {
	rec := BGPsecRecord{Mode: mode}
	isAssertion := mode == ModeAssertion

	if r.ASN != 0 {
		asn, err := validateASN(r.ASN)
		if err != nil {
			return BGPsecRecord{}, err
		}
		rec.ASN = asn
		rec.Presence |= BGPsecHasASN
	} else if isAssertion {
		return BGPsecRecord{}, fmt.Errorf("overlay: ASN is required for a bgpsec assertion")
	}

	if r.SKI != "" {
		ski, err := decodeBase64URL(r.SKI)
		if err != nil {
			return BGPsecRecord{}, fmt.Errorf("overlay: SKI: %w", err)
		}
		rec.SKI = ski
		rec.Presence |= BGPsecHasSKI
	} else if isAssertion {
		return BGPsecRecord{}, fmt.Errorf("overlay: SKI is required for a bgpsec assertion")
	}

	// routerPublicKey is ignored entirely for filters.
	if isAssertion {
		if r.RouterPublicKey == "" {
			return BGPsecRecord{}, fmt.Errorf("overlay: routerPublicKey is required for a bgpsec assertion")
		}
		key, err := decodeBase64URL(r.RouterPublicKey)
		if err != nil {
			return BGPsecRecord{}, fmt.Errorf("overlay: routerPublicKey: %w", err)
		}
		rec.RouterPublicKey = key
		rec.Presence |= BGPsecHasRouterPublicKey
	}

	if r.Comment != "" {
		rec.Comment = r.Comment
		rec.Presence |= BGPsecHasComment
	}

	return rec, nil
}

// checkNoDuplicateKeys walks the entire document looking for a JSON object
// that repeats a member name at any nesting level, the same
// JSON_REJECT_DUPLICATES behavior the original C loader gets for free from
// its JSON library. Neither encoding/json nor any library in the retrieved
// example pack offers this, so it's hand-rolled over json.Decoder's token
// stream.
func checkNoDuplicateKeys(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	return skipJSONValue(dec)
}

func skipJSONValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	delim, ok := tok.(json.Delim)
	if !ok {
		return nil
	}
	switch delim {
	case '{':
		return skipJSONObject(dec)
	case '[':
		return skipJSONArray(dec)
	default:
		return fmt.Errorf("overlay: unexpected JSON token %v", tok)
	}
}

func skipJSONObject(dec *json.Decoder) error {
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("overlay: expected object key, got %v", tok)
		}
		if seen[key] {
			return fmt.Errorf("overlay: duplicate object member %q", key)
		}
		seen[key] = true
		if err := skipJSONValue(dec); err != nil {
			return err
		}
	}
	_, err := dec.Token() // consume closing '}'
	return err
}

func skipJSONArray(dec *json.Decoder) error {
	for dec.More() {
		if err := skipJSONValue(dec); err != nil {
			return err
		}
	}
	_, err := dec.Token() // consume closing ']'
	return err
}
