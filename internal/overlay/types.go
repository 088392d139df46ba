// Package overlay parses and validates the locally-authored exception
// document (SLURM-style filters and assertions) a relying-party validator
// layers over its validated output: prefix-origin records and BGP-signing
// records, each split into a filter or an assertion variant.
package overlay

import "net/netip"

// Mode distinguishes an overlay record's two variants.
type Mode int

const (
	// ModeFilter records have mostly-optional fields; they match and
	// suppress validator output.
	ModeFilter Mode = iota
	// ModeAssertion records carry mandatory identifying fields; they are
	// injected as if independently validated.
	ModeAssertion
)

func (m Mode) String() string {
	if m == ModeAssertion {
		return "assertion"
	}
	return "filter"
}

// Family is the address family of a PrefixRecord.
type Family int

const (
	FamilyV4 Family = iota
	FamilyV6
)

// PrefixPresence records which optional-or-conditionally-required fields
// were actually present in the source document, independent of whether the
// record is a filter or an assertion.
type PrefixPresence uint8

const (
	PrefixHasPrefix PrefixPresence = 1 << iota
	PrefixHasASN
	PrefixHasMaxPrefixLength
	PrefixHasComment
)

func (p PrefixPresence) Has(mask PrefixPresence) bool { return p&mask == mask }

// PrefixRecord models one validated prefix-origin overlay element. ASN is
// required for assertions and optional for filters; Prefix is required for
// assertions and optional for filters. Fields not flagged present in
// Presence hold their zero value and must not be consulted.
type PrefixRecord struct {
	Mode     Mode
	Presence PrefixPresence

	Family          Family
	Prefix          netip.Prefix
	ASN             uint32
	MaxPrefixLength int
	Comment         string
}

// BGPsecPresence records which optional fields were present in the source
// document.
type BGPsecPresence uint8

const (
	BGPsecHasASN BGPsecPresence = 1 << iota
	BGPsecHasSKI
	BGPsecHasRouterPublicKey
	BGPsecHasComment
)

func (p BGPsecPresence) Has(mask BGPsecPresence) bool { return p&mask == mask }

// BGPsecRecord models one validated BGPsec overlay element. SKI and
// RouterPublicKey are required for assertions; RouterPublicKey is ignored
// entirely on filters (only SKI applies there).
type BGPsecRecord struct {
	Mode     Mode
	Presence BGPsecPresence

	ASN             uint32
	SKI             []byte
	RouterPublicKey []byte
	Comment         string
}

// Document is the fully parsed, validated overlay: every record that passed
// validation, retained for a downstream consumer.
type Document struct {
	PrefixFilters    []PrefixRecord
	PrefixAssertions []PrefixRecord
	BGPsecFilters    []BGPsecRecord
	BGPsecAssertions []BGPsecRecord
}
