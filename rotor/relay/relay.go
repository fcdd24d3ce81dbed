package relay

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/alpenlabs/alpenglow/model"
	"github.com/alpenlabs/alpenglow/network"
)

// Relay drives shred propagation: the leader seeds each fragment to its
// assigned relays, assigned relays fan out once more to the rest of the
// committee. Hop counts bound the propagation depth, so dissemination
// completes within a fixed number of round-trips under partial synchrony.
type Relay struct {
	log       zerolog.Logger
	conduit   network.Conduit
	self      model.Identifier
	committee model.IdentityList
	policy    Policy
	fanout    int
	maxHops   uint8
}

// New constructs a relay for one committee snapshot.
func New(
	log zerolog.Logger,
	conduit network.Conduit,
	self model.Identifier,
	committee model.IdentityList,
	policy Policy,
	fanout int,
	maxHops uint8,
) (*Relay, error) {
	if maxHops < 1 {
		return nil, model.NewConfigurationErrorf("max hops must be at least 1, got %d", maxHops)
	}
	if fanout < 2 {
		return nil, model.NewConfigurationErrorf("relay fanout must be at least 2, got %d", fanout)
	}
	return &Relay{
		log:       log.With().Str("component", "relay").Logger(),
		conduit:   conduit,
		self:      self,
		committee: committee.Sort(),
		policy:    policy,
		fanout:    fanout,
		maxHops:   maxHops,
	}, nil
}

// Broadcast seeds a full shred set into the network: each shred goes to its
// assigned relays at hop 1. Called by the leader after encoding.
func (r *Relay) Broadcast(shreds []*model.Shred) error {
	if len(shreds) == 0 {
		return fmt.Errorf("no shreds to broadcast")
	}
	assignment, err := Assign(shreds[0].BlockID, shreds[0].Params, r.committee, r.policy, r.fanout)
	if err != nil {
		return fmt.Errorf("could not compute relay assignment: %w", err)
	}

	for _, s := range shreds {
		msg := &network.ShredMessage{Shred: s, Hops: 1}
		targets := withoutSelf(assignment.Relays(s.Index), r.self)
		if err := r.conduit.Multicast(targets, msg); err != nil {
			// best-effort transport: log and keep seeding the remaining
			// shreds, repair covers the gaps
			r.log.Warn().Err(err).
				Hex("block_id", s.BlockID[:]).
				Uint16("index", s.Index).
				Msg("could not seed shred to relays")
		}
	}
	r.log.Debug().
		Hex("block_id", shreds[0].BlockID[:]).
		Int("shreds", len(shreds)).
		Msg("seeded shred set to relays")
	return nil
}

// Forward fans a received shred out to the rest of the committee, if this
// node is an assigned relay for its index and the hop bound permits.
func (r *Relay) Forward(msg *network.ShredMessage) error {
	if msg.Hops >= r.maxHops {
		return nil
	}
	assignment, err := Assign(msg.Shred.BlockID, msg.Shred.Params, r.committee, r.policy, r.fanout)
	if err != nil {
		return fmt.Errorf("could not compute relay assignment: %w", err)
	}
	if !assignment.IsRelay(msg.Shred.Index, r.self) {
		return nil
	}

	forward := &network.ShredMessage{Shred: msg.Shred, Hops: msg.Hops + 1}
	targets := withoutSelf(r.committee.NodeIDs(), r.self)
	if err := r.conduit.Multicast(targets, forward); err != nil {
		r.log.Warn().Err(err).
			Hex("block_id", msg.Shred.BlockID[:]).
			Uint16("index", msg.Shred.Index).
			Msg("could not forward shred")
	}
	return nil
}

func withoutSelf(ids []model.Identifier, self model.Identifier) []model.Identifier {
	out := make([]model.Identifier, 0, len(ids))
	for _, id := range ids {
		if id != self {
			out = append(out, id)
		}
	}
	return out
}
