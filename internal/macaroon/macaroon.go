// Package macaroon implements the capability token used by the L402 payment
// protocol: a signed, caveat-bearing credential whose identifier is the
// settlement hash of the invoice that must be paid to exercise it.
package macaroon

import (
	"crypto/hmac"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SignatureSize is the length of a macaroon signature in bytes.
const SignatureSize = sha256.Size

// Caveat is a named restriction embedded in a token. Caveats narrow what the
// token authorizes and are interpreted only by the verifier.
type Caveat struct {
	Condition string
	Value     string
}

// Macaroon is a capability token. The signature is a deterministic function
// of identifier, location, and the ordered caveat list under a root key; any
// caveat mutation invalidates it.
type Macaroon struct {
	Identifier []byte
	Location   string
	Caveats    []Caveat
	Sig        []byte
}

// New mints a macaroon with no caveats, signed under rootKey.
func New(rootKey, identifier []byte, location string) *Macaroon {
	m := &Macaroon{
		Identifier: identifier,
		Location:   location,
	}
	m.Sig = keyedHash(keyedHash(rootKey, []byte(location)), identifier)
	return m
}

// AddCaveat appends a caveat and folds it into the signature chain. The
// chain means appending never requires the root key, so a holder can
// attenuate a token without being able to forge or widen one.
func (m *Macaroon) AddCaveat(c Caveat) {
	m.Caveats = append(m.Caveats, c)
	m.Sig = keyedHash(m.Sig, c.pack())
}

// Verify recomputes the signature chain under rootKey and compares it to the
// token's signature in constant time.
func (m *Macaroon) Verify(rootKey []byte) bool {
	sig := keyedHash(keyedHash(rootKey, []byte(m.Location)), m.Identifier)
	for _, c := range m.Caveats {
		sig = keyedHash(sig, c.pack())
	}
	return hmac.Equal(sig, m.Sig)
}

// CaveatValue returns the value of the first caveat matching condition.
func (m *Macaroon) CaveatValue(condition string) (string, bool) {
	for _, c := range m.Caveats {
		if c.Condition == condition {
			return c.Value, true
		}
	}
	return "", false
}

// pack serializes a caveat for signature chaining. The separator cannot
// appear in conditions, so distinct caveats never pack identically.
func (c Caveat) pack() []byte {
	return []byte(c.Condition + "=" + c.Value)
}

func keyedHash(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

// DeriveRootKey derives a macaroon root key from the service master secret
// using HKDF-SHA256, bound to the token location so keys differ per service.
func DeriveRootKey(masterSecret []byte, location string) []byte {
	r := hkdf.New(sha256.New, masterSecret, nil, []byte("l402-root-key:"+location))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		// hkdf only fails when more than 255 blocks are requested
		panic(err)
	}
	return key
}
