package overlay

import (
	"encoding/base64"
	"errors"
	"strings"
)

// errTrailingPadding is returned when the caller passes a base64url string
// that still carries its '=' padding, which RFC 8416 forbids for SKI and
// routerPublicKey.
var errTrailingPadding = errors.New("overlay: base64url value must not contain trailing '='")

// errEmptyDecode is returned when a syntactically valid base64url string
// decodes to zero bytes.
var errEmptyDecode = errors.New("overlay: base64url value decoded to zero bytes")

// decodeBase64URL decodes s as unpadded base64url: '-' and '_' stand in for
// '+' and '/', and the caller must not have supplied trailing '=' padding.
// The string is re-padded to a multiple of 4 and decoded as standard
// base64.
func decodeBase64URL(s string) ([]byte, error) {
	if strings.ContainsRune(s, '=') {
		return nil, errTrailingPadding
	}

	translated := strings.NewReplacer("-", "+", "_", "/").Replace(s)
	if rem := len(translated) % 4; rem != 0 {
		translated += strings.Repeat("=", 4-rem)
	}

	decoded, err := base64.StdEncoding.DecodeString(translated)
	if err != nil {
		return nil, err
	}
	if len(decoded) == 0 {
		return nil, errEmptyDecode
	}
	return decoded, nil
}
