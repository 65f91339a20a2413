package duel

import "errors"

// ErrSessionFull is returned when both slots are already occupied. The caller
// is responsible for closing the rejected channel.
var ErrSessionFull = errors.New("session full: only two players are allowed")

// SlotNumber is one of the two fixed participant positions.
type SlotNumber int

const (
	Slot1 SlotNumber = 1
	Slot2 SlotNumber = 2
)

type slot struct {
	channel  Channel
	identity Identity
}

func (s *slot) occupied() bool {
	return s.channel != nil
}

// correlationEntry links a live connection to its slot and external identity.
// Entries never outlive the slot's occupancy.
type correlationEntry struct {
	Slot     SlotNumber
	Channel  Channel
	Identity Identity
}

// SlotStore owns the two participant slots and the correlation table keyed by
// connection ID. It is not safe for concurrent use; the coordinator's run
// loop is its only caller.
type SlotStore struct {
	slots    [2]slot
	sessions map[string]correlationEntry
}

func NewSlotStore() *SlotStore {
	return &SlotStore{
		sessions: make(map[string]correlationEntry),
	}
}

// Assign fills slot 1 if empty, else slot 2, and records the correlation
// entry. Returns ErrSessionFull when both slots are taken.
func (s *SlotStore) Assign(ch Channel, identity Identity) (SlotNumber, error) {
	for i := range s.slots {
		if s.slots[i].occupied() {
			continue
		}
		num := SlotNumber(i + 1)
		s.slots[i] = slot{channel: ch, identity: identity}
		s.sessions[ch.ID()] = correlationEntry{
			Slot:     num,
			Channel:  ch,
			Identity: identity,
		}
		return num, nil
	}
	return 0, ErrSessionFull
}

// Release frees the slot held by ch and removes the correlation entry. The
// caller (the coordinator's disconnect/leave handlers) clears replay intent
// and decides what happens to scores and lifecycle state. The second return
// is false when ch held no slot.
func (s *SlotStore) Release(ch Channel) (SlotNumber, bool) {
	entry, ok := s.sessions[ch.ID()]
	if !ok {
		return 0, false
	}
	delete(s.sessions, ch.ID())

	i := int(entry.Slot) - 1
	s.slots[i] = slot{}
	return entry.Slot, true
}

// Lookup returns the slot held by ch, if any.
func (s *SlotStore) Lookup(ch Channel) (SlotNumber, bool) {
	entry, ok := s.sessions[ch.ID()]
	if !ok {
		return 0, false
	}
	return entry.Slot, true
}

// Identity returns the external identity correlated with a slot. The zero
// Identity is returned for an empty slot.
func (s *SlotStore) Identity(num SlotNumber) Identity {
	return s.slots[num-1].identity
}

func (s *SlotStore) Occupied(num SlotNumber) bool {
	return s.slots[num-1].occupied()
}

func (s *SlotStore) BothOccupied() bool {
	return s.slots[0].occupied() && s.slots[1].occupied()
}

func (s *SlotStore) BothEmpty() bool {
	return !s.slots[0].occupied() && !s.slots[1].occupied()
}

// Occupancy is the playerStatus broadcast payload.
func (s *SlotStore) Occupancy() PlayerStatusPayload {
	return PlayerStatusPayload{
		Slot1Occupied: s.slots[0].occupied(),
		Slot2Occupied: s.slots[1].occupied(),
	}
}

// Channels returns every connected channel, slot order first. Used for
// broadcasts; rejected third connections are never in here.
func (s *SlotStore) Channels() []Channel {
	var out []Channel
	for i := range s.slots {
		if s.slots[i].occupied() {
			out = append(out, s.slots[i].channel)
		}
	}
	return out
}
