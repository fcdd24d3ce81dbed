// Package crypto declares the interfaces the consensus core requires from its
// cryptographic collaborator. Primitive implementations (BLS, VRF) live
// outside the core; everything here is verify-or-sign at the interface level.
package crypto

// Verifier checks signatures and VRF proofs against public keys. The core
// never inspects key or signature internals.
type Verifier interface {
	// VerifySignature reports whether sig is a valid signature of message
	// under pubKey.
	VerifySignature(pubKey, message, sig []byte) bool

	// VerifyVRFProof reports whether proof correctly derives the given seed
	// under pubKey. The seed is unpredictable before its slot begins and
	// verifiable afterwards through this check.
	VerifyVRFProof(seed, proof, pubKey []byte) bool
}

// Signer produces this node's own signatures, e.g. for votes it casts.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}
