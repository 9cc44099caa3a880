package model

// SyncTypeSlot is the only message type surfaces act on.
const SyncTypeSlot = "slot"

// DefaultSyncChannel is the channel shared by every surface of one display.
const DefaultSyncChannel = "protogen-face-sync"

// SyncMessage tells the other surfaces of a display to switch slot.
// It is ephemeral: no ack, no persistence, last message wins.
type SyncMessage struct {
	Type string `json:"type"`
	Slot int    `json:"slot"`
}

// SlotMessage builds a slot switch message.
func SlotMessage(slot int) SyncMessage {
	return SyncMessage{Type: SyncTypeSlot, Slot: slot}
}

// Valid reports whether a receiver should act on m. Messages of another
// type or with an out-of-range slot are ignored.
func (m SyncMessage) Valid() bool {
	return m.Type == SyncTypeSlot && ValidSlot(m.Slot)
}
