package unittest

import (
	"bytes"

	"github.com/alpenlabs/alpenglow/crypto"
)

// PassthroughSigner signs by concatenating a fixed tag with the message, so
// PassthroughVerifier can check signatures without real cryptography.
type PassthroughSigner struct {
	Tag []byte
}

var _ crypto.Signer = (*PassthroughSigner)(nil)

func (s *PassthroughSigner) Sign(message []byte) ([]byte, error) {
	return append(append([]byte{}, s.Tag...), message...), nil
}

// PassthroughVerifier accepts signatures produced by a PassthroughSigner
// whose tag equals the public key.
type PassthroughVerifier struct{}

var _ crypto.Verifier = (*PassthroughVerifier)(nil)

func (PassthroughVerifier) VerifySignature(pubKey, message, sig []byte) bool {
	return bytes.Equal(sig, append(append([]byte{}, pubKey...), message...))
}

func (PassthroughVerifier) VerifyVRFProof(seed, proof, pubKey []byte) bool {
	return len(proof) > 0
}

// AcceptAllVerifier accepts every signature and proof. For tests that do not
// exercise signature checks.
type AcceptAllVerifier struct{}

var _ crypto.Verifier = (*AcceptAllVerifier)(nil)

func (AcceptAllVerifier) VerifySignature(pubKey, message, sig []byte) bool { return len(sig) > 0 }
func (AcceptAllVerifier) VerifyVRFProof(seed, proof, pubKey []byte) bool   { return len(proof) > 0 }
