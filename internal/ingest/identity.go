package ingest

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
)

// MaxDeviceIDLength is the longest accepted device identifier.
const MaxDeviceIDLength = 64

var deviceIDRegex = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateDeviceID checks identifier syntax. It must run before any other
// field of a reading is trusted.
func ValidateDeviceID(id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty", ErrIdentity)
	}
	if len(id) > MaxDeviceIDLength {
		return fmt.Errorf("%w: length %d exceeds %d", ErrIdentity, len(id), MaxDeviceIDLength)
	}
	if !deviceIDRegex.MatchString(id) {
		return fmt.Errorf("%w: contains characters outside [A-Za-z0-9_-]", ErrIdentity)
	}
	return nil
}

// SignatureMode decides how unsigned payloads are treated.
type SignatureMode string

const (
	// SignatureOptional skips verification when the sig member is absent or
	// empty. This is the development default and lets unsigned traffic in.
	// It gives no integrity guarantee: anyone on the broker path can strip
	// or rename the sig member of a signed payload and have it accepted as
	// unsigned. Deployments that depend on signatures must use
	// SignatureRequired.
	SignatureOptional SignatureMode = "optional"

	// SignatureRequired rejects payloads without a signature.
	SignatureRequired SignatureMode = "required"
)

// signatureMember is the payload member holding the hex HMAC.
const signatureMember = "sig"

// errNoSignatureMember is returned by locateSignature when the payload has
// no top-level sig member.
var errNoSignatureMember = errors.New("no sig member")

// Verifier checks payload integrity against a shared secret.
//
// The authentication code is HMAC-SHA256 over the raw payload bytes, with
// the string value of the top-level "sig" member emptied ("sig":""), encoded
// as lowercase hex. Every other byte, whitespace and member order included,
// is covered.
//
// Verifier is immutable and safe for concurrent use.
type Verifier struct {
	secret []byte
	mode   SignatureMode
}

// NewVerifier creates a Verifier. An unknown mode is treated as required.
func NewVerifier(secret string, mode SignatureMode) *Verifier {
	if mode != SignatureOptional {
		mode = SignatureRequired
	}
	return &Verifier{
		secret: []byte(secret),
		mode:   mode,
	}
}

// Mode returns the configured signature mode.
func (v *Verifier) Mode() SignatureMode {
	return v.mode
}

// Verify checks sig against raw. sig is the decoded value of the payload's
// sig member.
func (v *Verifier) Verify(raw []byte, sig string) error {
	if sig == "" {
		if v.mode == SignatureOptional {
			return nil
		}
		return fmt.Errorf("%w: signature required", ErrIntegrity)
	}

	start, end, err := locateSignature(raw)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrIntegrity, err)
	}
	// The member must be a plain string literal so that blanking it
	// reproduces exactly the bytes the device signed.
	if !bytes.Equal(raw[start:end], []byte(`"`+sig+`"`)) {
		return fmt.Errorf("%w: sig is not a plain hex string", ErrIntegrity)
	}

	expected := computeMAC(v.secret, blankSignature(raw, start, end))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return fmt.Errorf("%w: signature mismatch", ErrIntegrity)
	}
	return nil
}

// Sign fills the sig member of raw with the authentication code for secret.
// raw must already contain a top-level "sig" member; its current value is
// replaced. Used by publishers and tests.
func Sign(secret string, raw []byte) ([]byte, error) {
	start, end, err := locateSignature(raw)
	if err != nil {
		return nil, err
	}
	unsigned := blankSignature(raw, start, end)

	sigStart, sigEnd, err := locateSignature(unsigned)
	if err != nil {
		return nil, err
	}
	mac := computeMAC([]byte(secret), unsigned)

	out := make([]byte, 0, len(unsigned)+len(mac))
	out = append(out, unsigned[:sigStart]...)
	out = append(out, '"')
	out = append(out, mac...)
	out = append(out, '"')
	out = append(out, unsigned[sigEnd:]...)
	return out, nil
}

// computeMAC returns the lowercase hex HMAC-SHA256 of data.
func computeMAC(secret, data []byte) string {
	mac := hmac.New(sha256.New, secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// blankSignature returns a copy of raw with raw[start:end] replaced by "".
func blankSignature(raw []byte, start, end int) []byte {
	out := make([]byte, 0, len(raw)-(end-start)+2)
	out = append(out, raw[:start]...)
	out = append(out, '"', '"')
	out = append(out, raw[end:]...)
	return out
}

// locateSignature returns the byte span of the value of the last top-level
// sig member in raw. Later duplicates win, matching encoding/json.
func locateSignature(raw []byte) (start, end int, err error) {
	dec := json.NewDecoder(bytes.NewReader(raw))

	tok, err := dec.Token()
	if err != nil {
		return 0, 0, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return 0, 0, errors.New("payload is not an object")
	}

	found := false
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return 0, 0, err
		}
		key, _ := keyTok.(string)

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return 0, 0, err
		}
		if key == signatureMember {
			end = int(dec.InputOffset())
			start = end - len(value)
			found = true
		}
	}

	if !found {
		return 0, 0, errNoSignatureMember
	}
	return start, end, nil
}
