package network

import "github.com/alpenlabs/alpenglow/model"

// VoteMessage carries one vote to the committee.
type VoteMessage struct {
	Vote *model.Vote
}

// ShredMessage carries one erasure-coded fragment. Hops counts forwarding
// steps already taken; relays stop forwarding once the hop bound is reached.
type ShredMessage struct {
	Shred *model.Shred
	Hops  uint8
}

// RepairRequest asks a responder for specific missing shred indices of a
// block. Requests are deduplicated and bounded by the sender.
type RepairRequest struct {
	BlockID model.Identifier
	Params  model.CodingParams
	Indices []uint16
}

// RepairResponse returns the subset of requested shreds the responder holds.
type RepairResponse struct {
	BlockID model.Identifier
	Shreds  []*model.Shred
}

// CertificateMessage announces a formed certificate.
type CertificateMessage struct {
	Certificate *model.Certificate
}
