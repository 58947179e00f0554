package events

import (
	"net"
	"time"
)

// EventType identifies the kind of relay lifecycle event carried on the bus.
type EventType string

const (
	// SlotAssigned fires when a peer registry slot transitions from
	// UNASSIGNED to ASSIGNING (§4.3, §4.5).
	SlotAssigned EventType = "slot.assigned"
	// SlotActive fires when a slot observes its first KA-ACK (CLIENT) or
	// its first established mapping (SERVER), entering ACTIVE.
	SlotActive EventType = "slot.active"
	// SlotReset fires when a slot transitions to RESETTING and back to
	// UNASSIGNED, whether by inactivity timer or RESET message.
	SlotReset EventType = "slot.reset"
	// RegistryPurged fires when the global server_peer_connection_timeout
	// purges every slot at once.
	RegistryPurged EventType = "registry.purged"
)

// Event is the payload carried on the EventBus. Source is a free-form
// component tag ("registry", "supervisor", slot worker names, ...).
type Event struct {
	Type   EventType
	Source string
	At     time.Time

	Slot int    // slot index; -1 for registry-wide events
	Peer net.Addr // nil unless the event concerns a specific peer
}
