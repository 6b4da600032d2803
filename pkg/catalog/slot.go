package catalog

import (
	pkgerrors "github.com/provender/shelfsync/pkg/errors"
)

// Slot identifies one of the fixed image roles a catalog item can carry.
type Slot string

// The closed set of image slots. The external source exposes exactly these
// five attachment fields per record; anything else is rejected at the
// ingestion boundary.
const (
	SlotFront   Slot = "front"
	SlotBack    Slot = "back"
	SlotLabel   Slot = "label"
	SlotPackage Slot = "package"
	SlotGift    Slot = "gift"
)

// Slots returns all valid slots in a stable order.
func Slots() []Slot {
	return []Slot{SlotFront, SlotBack, SlotLabel, SlotPackage, SlotGift}
}

// String returns the string representation of a Slot.
func (s Slot) String() string {
	return string(s)
}

// Valid reports whether the slot is a member of the closed set.
func (s Slot) Valid() bool {
	switch s {
	case SlotFront, SlotBack, SlotLabel, SlotPackage, SlotGift:
		return true
	default:
		return false
	}
}

// ParseSlot validates a raw slot string against the closed set.
func ParseSlot(raw string) (Slot, error) {
	s := Slot(raw)
	if !s.Valid() {
		return "", &pkgerrors.ValidationError{
			Field:   "slot",
			Value:   raw,
			Message: "must be one of front, back, label, package, gift",
		}
	}
	return s, nil
}
