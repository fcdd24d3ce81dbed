package model

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// Block is the unit of consensus: produced once by the slot leader,
// referenced (never mutated) by votes and certificates.
type Block struct {
	Slot       uint64
	View       uint64
	ProposerID Identifier
	ParentID   Identifier
	Payload    []byte
}

// ID returns the content address of the block.
func (b *Block) ID() Identifier {
	return MakeID(b)
}

// EncodeBlock serializes the block with canonical CBOR. The encoding is
// deterministic, which makes the erasure-coded shred set for a block
// deterministic as well.
func EncodeBlock(b *Block) ([]byte, error) {
	data, err := encMode.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("could not serialize block: %w", err)
	}
	return data, nil
}

// DecodeBlock deserializes a block produced by EncodeBlock.
func DecodeBlock(data []byte) (*Block, error) {
	var block Block
	if err := cbor.Unmarshal(data, &block); err != nil {
		return nil, fmt.Errorf("could not deserialize block: %w", err)
	}
	return &block, nil
}
