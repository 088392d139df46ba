package overlay

import (
	"fmt"
	"net/netip"
	"strconv"
	"strings"
)

func familyMaxBits(family Family) int {
	if family == FamilyV4 {
		return 32
	}
	return 128
}

// parsePrefix parses "addr/len", classifying the family by the presence of
// ':' in the address part, then validates that no host bits below the
// prefix length are set.
func parsePrefix(raw string) (netip.Prefix, Family, error) {
	idx := strings.IndexByte(raw, '/')
	if idx < 0 {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: prefix %q is missing '/'", raw)
	}
	addrPart, lengthPart := raw[:idx], raw[idx+1:]

	family := FamilyV4
	if strings.ContainsRune(addrPart, ':') {
		family = FamilyV6
	}

	addr, err := netip.ParseAddr(addrPart)
	if err != nil {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: invalid address %q: %w", addrPart, err)
	}
	if family == FamilyV4 && !addr.Is4() {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: %q is not an IPv4 address", addrPart)
	}
	if family == FamilyV6 && !addr.Is6() {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: %q is not an IPv6 address", addrPart)
	}

	length, err := strconv.Atoi(lengthPart)
	if err != nil {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: invalid prefix length %q: %w", lengthPart, err)
	}
	familyMax := familyMaxBits(family)
	if length < 0 || length > familyMax {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: prefix length %d out of range [0, %d]", length, familyMax)
	}

	prefix := netip.PrefixFrom(addr, length)
	if !prefix.IsValid() {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: invalid prefix %q", raw)
	}
	if masked := prefix.Masked(); masked.Addr() != addr {
		return netip.Prefix{}, 0, fmt.Errorf("overlay: %q has non-zero host bits below /%d", raw, length)
	}

	return prefix, family, nil
}

// validateMaxPrefixLength checks maxPrefixLength against the family range
// and, when prefixLength is known, that prefixLength <= max.
func validateMaxPrefixLength(family Family, prefixLength, max int) error {
	familyMax := familyMaxBits(family)
	if max < 1 || max > familyMax {
		return fmt.Errorf("overlay: max prefix length %d out of range [1, %d]", max, familyMax)
	}
	if prefixLength > max {
		return fmt.Errorf("overlay: prefix length %d is greater than max prefix length %d", prefixLength, max)
	}
	return nil
}

func validateASN(asn int64) (uint32, error) {
	if asn < 1 || asn > int64(^uint32(0)) {
		return 0, fmt.Errorf("overlay: ASN (%d) is out of range [1, %d]", asn, ^uint32(0))
	}
	return uint32(asn), nil
}
