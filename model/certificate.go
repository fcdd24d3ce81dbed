package model

import "fmt"

// CertificateType discriminates the three certificate paths.
type CertificateType uint8

const (
	// CertFast finalizes a block with >= fast-path quorum (default 80%)
	// before the view timeout fires.
	CertFast CertificateType = iota + 1
	// CertSlow finalizes a block with >= slow-path quorum (default 60%),
	// permitted before or after the view timeout.
	CertSlow
	// CertSkip certifies that >= slow-path quorum voted to abandon the view.
	// It advances the view and finalizes nothing.
	CertSkip
)

func (t CertificateType) String() string {
	switch t {
	case CertFast:
		return "fast"
	case CertSlow:
		return "slow"
	case CertSkip:
		return "skip"
	default:
		return fmt.Sprintf("unknown-cert-type-%d", uint8(t))
	}
}

// Certificate is the stake-weighted proof that a quorum agreed on a block
// (Fast, Slow) or on skipping a view (Skip). Certificates are immutable once
// formed and are never revised; at most one Fast-or-Slow certificate may ever
// become the finalized choice for a slot.
type Certificate struct {
	Slot            uint64
	View            uint64
	Type            CertificateType
	BlockID         Identifier // ZeroID for skip certificates
	SignerIDs       []Identifier
	AggregatedStake uint64
}

// Finalizing reports whether the certificate finalizes a block.
func (c *Certificate) Finalizing() bool {
	return c.Type == CertFast || c.Type == CertSlow
}

// ID returns the content address of the certificate.
func (c *Certificate) ID() Identifier {
	return MakeID(c)
}
