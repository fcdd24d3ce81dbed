package model

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Identifier is the 32-byte content address used for all entities in the
// protocol: blocks, votes, certificates, shreds and node identities.
type Identifier [32]byte

// ZeroID is the zero-valued identifier. It is used as the block reference of
// skip votes and skip certificates, which finalize nothing.
var ZeroID = Identifier{}

// encMode is the canonical CBOR encoding mode shared by all MakeID calls.
// Canonical encoding is what makes content addresses deterministic across
// nodes: the same entity always serializes to the same bytes.
var encMode cbor.EncMode

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("could not construct canonical cbor encoder: %s", err))
	}
}

func (id Identifier) String() string {
	return hex.EncodeToString(id[:])
}

// HashToID hashes raw bytes into an Identifier.
func HashToID(data []byte) Identifier {
	return sha256.Sum256(data)
}

// MakeID is the single entry point for computing the content address of an
// entity. The entity is serialized with canonical CBOR and hashed.
// MakeID panics if the entity cannot be serialized, which for our own model
// types indicates a programming error, not a runtime condition.
func MakeID(entity interface{}) Identifier {
	data, err := encMode.Marshal(entity)
	if err != nil {
		panic(fmt.Sprintf("could not serialize entity for hashing: %s", err))
	}
	return HashToID(data)
}
