package model

import "fmt"

// CodingParams are the erasure coding parameters of a shred set: any
// DataShreds of the TotalShreds fragments reconstruct the block.
type CodingParams struct {
	DataShreds  uint16 // K
	TotalShreds uint16 // N
}

func (p CodingParams) Validate() error {
	if p.DataShreds == 0 {
		return fmt.Errorf("data shred count must be positive")
	}
	if p.DataShreds > p.TotalShreds {
		return fmt.Errorf("data shred count %d exceeds total %d", p.DataShreds, p.TotalShreds)
	}
	return nil
}

// Shred is one erasure-coded fragment of a block's serialized payload.
// The shred set for a block is deterministic given the block and the coding
// parameters, so a single leader signature covers every fragment.
type Shred struct {
	BlockID  Identifier
	Slot     uint64
	Index    uint16
	Params   CodingParams
	IsParity bool
	Payload  []byte
	Checksum Identifier
}

// VerifyChecksum reports whether the payload matches the embedded integrity
// checksum. Decoding rejects shreds failing this check before attempting
// reconstruction.
func (s *Shred) VerifyChecksum() bool {
	return HashToID(s.Payload) == s.Checksum
}

// ID returns the content address of the shred.
func (s *Shred) ID() Identifier {
	return MakeID(s)
}
