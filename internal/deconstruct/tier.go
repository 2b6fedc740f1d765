package deconstruct

import (
	"strings"

	"github.com/starford/mira/internal/structure"
)

// Tier is a removal priority. Lower values come off first.
type Tier int

const (
	TierDecoration Tier = iota
	TierControl
	TierCore
	TierFoundation
)

var tierNames = [...]string{"decoration", "control", "core mechanism", "foundation"}

func (t Tier) String() string {
	if t < TierDecoration || t > TierFoundation {
		return "unknown"
	}
	return tierNames[t]
}

// Classifier assigns a record to a tier.
type Classifier interface {
	Classify(r structure.Record) Tier
}

// KeywordClassifier matches id fragments. Entities are decoration and
// anything unmatched is foundation.
type KeywordClassifier struct {
	Decoration []string
	Control    []string
	Core       []string
}

// DefaultClassifier covers vanilla redstone builds.
var DefaultClassifier = KeywordClassifier{
	Decoration: []string{"lamp", "glass", "frame", "door", "slab", "stairs", "wool", "concrete", "carpet", "sign", "banner", "terracotta"},
	Control:    []string{"redstone_wire", "repeater", "comparator", "lever", "button", "torch", "pressure_plate", "tripwire", "redstone_block", "target", "daylight_detector"},
	Core:       []string{"piston", "observer", "dropper", "dispenser", "hopper", "note_block", "chest", "barrel", "crafter"},
}

// Classify implements Classifier.
func (c KeywordClassifier) Classify(r structure.Record) Tier {
	if r.IsEntity() {
		return TierDecoration
	}
	base := r.State.Base()
	switch {
	case containsAny(base, c.Decoration):
		return TierDecoration
	case containsAny(base, c.Control):
		return TierControl
	case containsAny(base, c.Core):
		return TierCore
	}
	return TierFoundation
}

func containsAny(s string, frags []string) bool {
	for _, f := range frags {
		if strings.Contains(s, f) {
			return true
		}
	}
	return false
}
