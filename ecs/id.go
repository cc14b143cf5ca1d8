package ecs

import (
	"fmt"
	"strconv"
)

// Id identifies an entity, a component, a tag or a relationship pair.
//
// Layout of a plain entity id:
//
//	bits  0..31  index
//	bits 32..59  generation
//	bits 60..63  flags
//
// A pair stores the relationship index in bits 32..59 and the target index in
// bits 0..31, with PairFlag set. Pairs do not carry generations; the entity
// index resolves them to the currently alive ids.
type Id uint64

// EntityId is an Id that refers to an entity. The two are interchangeable;
// the alias documents intent at call sites.
type EntityId = Id

const (
	indexMask      Id = 0xFFFFFFFF
	generationMask Id = 0x0FFFFFFF << 32
	flagsMask      Id = 0xF << 60
	// pair relationship field, same bits as the generation
	pairFirstMask Id = generationMask

	// MaxGeneration is the largest generation before the counter wraps to 0.
	MaxGeneration = uint32(generationMask >> 32)
)

// Id flags.
const (
	PairFlag         Id = 1 << 63
	AutoOverrideFlag Id = 1 << 62
	ToggleFlag       Id = 1 << 61
)

// Built-in entities. They live at fixed low indices so recycling never
// touches them.
const (
	Wildcard Id = iota + 1
	Any
	ChildOf
	OnDelete
	OnDeleteTarget
	Remove
	Delete
	Panic
	Exclusive
	Sparse
	DontFragment
	Traversable
	CanToggle
	Prefab
	Disabled
	Final
	Component
	Name
	lastBuiltin
)

const (
	// FirstUserComponentIndex is the first index handed out to registered components.
	FirstUserComponentIndex = 32
	// FirstUserEntityIndex is the first index handed out by New.
	FirstUserEntityIndex = 256
)

var builtinNames = [lastBuiltin]string{
	Wildcard:       "*",
	Any:            "_",
	ChildOf:        "ChildOf",
	OnDelete:       "OnDelete",
	OnDeleteTarget: "OnDeleteTarget",
	Remove:         "Remove",
	Delete:         "Delete",
	Panic:          "Panic",
	Exclusive:      "Exclusive",
	Sparse:         "Sparse",
	DontFragment:   "DontFragment",
	Traversable:    "Traversable",
	CanToggle:      "CanToggle",
	Prefab:         "Prefab",
	Disabled:       "Disabled",
	Final:          "Final",
	Component:      "Component",
	Name:           "Name",
}

func makeId(index uint32, generation uint32) Id {
	return Id(generation&MaxGeneration)<<32 | Id(index)
}

// Pair creates a relationship pair id.
func Pair(rel, tgt Id) Id {
	if rel.Index() > MaxGeneration {
		panic(fmt.Sprintf("ecs: relationship index %d does not fit in a pair", rel.Index()))
	}
	return PairFlag | Id(rel.Index())<<32 | Id(tgt.Index())
}

// Index returns the entity index.
func (id Id) Index() uint32 {
	return uint32(id & indexMask)
}

// Generation returns the generation of a plain entity id.
func (id Id) Generation() uint32 {
	return uint32((id & generationMask) >> 32)
}

// WithGeneration returns id with its generation replaced.
func (id Id) WithGeneration(gen uint32) Id {
	return (id &^ generationMask) | Id(gen&MaxGeneration)<<32
}

// StripGeneration returns the id with generation and flags cleared.
func (id Id) StripGeneration() Id {
	return id & indexMask
}

// StripFlags returns the id with the flag bits cleared.
func (id Id) StripFlags() Id {
	return id &^ flagsMask
}

// IsPair reports whether id is a relationship pair.
func (id Id) IsPair() bool {
	return id&PairFlag != 0
}

// HasFlags reports whether any id flag bits are set.
func (id Id) HasFlags() bool {
	return id&flagsMask != 0
}

// First returns the relationship of a pair, as an index-only id.
func (id Id) First() Id {
	return (id & pairFirstMask) >> 32
}

// Second returns the target of a pair, as an index-only id.
func (id Id) Second() Id {
	return id & indexMask
}

// IsWildcard reports whether id is, or contains, a wildcard.
func (id Id) IsWildcard() bool {
	if id == Wildcard || id == Any {
		return true
	}
	if !id.IsPair() {
		return false
	}
	first, second := id.First(), id.Second()
	return first == Wildcard || first == Any || second == Wildcard || second == Any
}

// Matches reports whether id matches pattern. Wildcard and Any match any
// element; plain ids must be equal.
func (id Id) Matches(pattern Id) bool {
	if id == pattern {
		return true
	}
	if pattern == Wildcard || pattern == Any {
		return !id.IsPair()
	}
	if !pattern.IsPair() || !id.IsPair() {
		return false
	}
	pf, ps := pattern.First(), pattern.Second()
	if pf != Wildcard && pf != Any && pf != id.First() {
		return false
	}
	if ps != Wildcard && ps != Any && ps != id.Second() {
		return false
	}
	return true
}

func (id Id) String() string {
	if id == 0 {
		return "0"
	}
	if id.IsPair() {
		return "(" + indexString(id.First()) + "," + indexString(id.Second()) + ")"
	}
	s := indexString(id.StripGeneration())
	if gen := id.Generation(); gen != 0 {
		s += "@" + strconv.FormatUint(uint64(gen), 10)
	}
	return s
}

func indexString(id Id) string {
	if id > 0 && id < lastBuiltin {
		return builtinNames[id]
	}
	return "#" + strconv.FormatUint(uint64(id.Index()), 10)
}
