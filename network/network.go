// Package network declares the transport collaborator interface. Delivery is
// best effort: the core assumes neither ordering nor reliability and must
// tolerate loss and duplication.
package network

import "github.com/alpenlabs/alpenglow/model"

// Conduit sends protocol messages to peers. Implementations are free to
// batch, drop or reorder; the consensus core is built to survive all three.
type Conduit interface {
	// Unicast sends the event to a single target, best effort.
	Unicast(target model.Identifier, event interface{}) error

	// Multicast sends the event to every target, best effort.
	Multicast(targets []model.Identifier, event interface{}) error
}

// MessageProcessor is implemented by engines that consume inbound messages.
// The transport calls Process once per received message; the engine queues
// internally and must not block.
type MessageProcessor interface {
	Process(originID model.Identifier, event interface{}) error
}
