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

	"github.com/go-jose/go-jose/v3"
)

// Signature is a compact EdDSA JWS whose payload is the signed bytes.
type Signature struct {
	By  PublicKey `json:"by"`
	JWS string    `json:"jws"`
}

// NewSignature signs payload with priv.
func NewSignature(priv ed25519.PrivateKey, payload []byte) (Signature, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return Signature{}, errors.New("invalid ed25519 private key")
	}

	signer, err := jose.NewSigner(jose.SigningKey{Algorithm: jose.EdDSA, Key: priv}, nil)
	if err != nil {
		return Signature{}, fmt.Errorf("create signer: %w", err)
	}

	obj, err := signer.Sign(payload)
	if err != nil {
		return Signature{}, fmt.Errorf("sign: %w", err)
	}

	compact, err := obj.CompactSerialize()
	if err != nil {
		return Signature{}, fmt.Errorf("serialize jws: %w", err)
	}

	pub, ok := priv.Public().(ed25519.PublicKey)
	if !ok {
		return Signature{}, errors.New("unexpected public key type")
	}

	return Signature{By: PublicKey(pub), JWS: compact}, nil
}

// Verify checks that the signature was made by By over exactly payload.
func (s Signature) Verify(payload []byte) error {
	if len(s.By) != ed25519.PublicKeySize {
		return fmt.Errorf("%w: bad signer key length %d", ErrInvalidSignature, len(s.By))
	}

	obj, err := jose.ParseSigned(s.JWS)
	if err != nil {
		return fmt.Errorf("%w: parse jws: %s", ErrInvalidSignature, err.Error())
	}

	if len(obj.Signatures) != 1 || obj.Signatures[0].Header.Algorithm != string(jose.EdDSA) {
		return fmt.Errorf("%w: expected a single EdDSA signature", ErrInvalidSignature)
	}

	signed, err := obj.Verify(ed25519.PublicKey(s.By))
	if err != nil {
		return fmt.Errorf("%w: by %s: %s", ErrInvalidSignature, s.By, err.Error())
	}

	if !bytes.Equal(signed, payload) {
		return fmt.Errorf("%w: signature by %s", ErrPayloadMismatch, s.By)
	}

	return nil
}
