/*
Copyright SecureKey Technologies Inc. All Rights Reserved.

SPDX-License-Identifier: Apache-2.0
*/

package ledger

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/multiformats/go-multibase"
)

// ErrInvalidPublicKey is returned when a verification key cannot be decoded.
var ErrInvalidPublicKey = errors.New("invalid public key")

// PublicKey is an ed25519 verification key. Its text form is multibase base58btc.
type PublicKey []byte

// ParsePublicKey decodes the multibase text form of a key.
func ParsePublicKey(s string) (PublicKey, error) {
	enc, data, err := multibase.Decode(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPublicKey, err.Error())
	}

	if enc != multibase.Base58BTC {
		return nil, fmt.Errorf("%w: unexpected multibase encoding %q", ErrInvalidPublicKey, string(rune(enc)))
	}

	if len(data) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidPublicKey, ed25519.PublicKeySize, len(data))
	}

	return data, nil
}

// String returns the multibase text form of the key.
func (k PublicKey) String() string {
	s, err := multibase.Encode(multibase.Base58BTC, k)
	if err != nil {
		return ""
	}

	return s
}

// Equal reports whether both keys have the same bytes.
func (k PublicKey) Equal(other PublicKey) bool {
	return bytes.Equal(k, other)
}

// MarshalText implements encoding.TextMarshaler. A missing key has an empty text form.
func (k PublicKey) MarshalText() ([]byte, error) {
	if len(k) == 0 {
		return []byte{}, nil
	}

	s, err := multibase.Encode(multibase.Base58BTC, k)
	if err != nil {
		return nil, err
	}

	return []byte(s), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (k *PublicKey) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*k = nil

		return nil
	}

	key, err := ParsePublicKey(string(text))
	if err != nil {
		return err
	}

	*k = key

	return nil
}

// Party is a well-known, network addressable participant.
type Party struct {
	Name string    `json:"name"`
	Key  PublicKey `json:"key"`
}

// IsZero reports whether the party has not been resolved.
func (p Party) IsZero() bool {
	return p.Name == "" || len(p.Key) == 0
}

// Abstract returns the form of the party that is stored in a record.
func (p Party) Abstract() AbstractParty {
	return AbstractParty{Name: p.Name, Key: p.Key}
}

func (p Party) String() string {
	return p.Name
}

// AnonymousParty is a one-time identity standing in for a Party within a single run.
type AnonymousParty struct {
	Key PublicKey `json:"key"`
}

// Abstract returns the form of the anonymous party that is stored in a record.
func (a AnonymousParty) Abstract() AbstractParty {
	return AbstractParty{Key: a.Key}
}

// AbstractParty is either a well-known or an anonymous identity.
type AbstractParty struct {
	// Name is empty for anonymous identities.
	Name string    `json:"name,omitempty"`
	Key  PublicKey `json:"key"`
}

// Anonymous reports whether the identity does not reveal its owner.
func (a AbstractParty) Anonymous() bool {
	return a.Name == ""
}

func (a AbstractParty) String() string {
	if a.Anonymous() {
		return "anonymous(" + a.Key.String() + ")"
	}

	return a.Name
}
