package codec

// Value is a structured, parsed message. Every type the Codec Registry
// produces from Parse must implement Value so the Handler Pipeline can
// deep-clone a cached parsed event without knowing its concrete shape
// (spec.md §3, "Parsed Event" and §9's design note on codec-extensible
// value types).
//
// Implementations of Clone must copy all fields that a hook could observe
// or mutate; sharing backing arrays/maps with the original defeats the
// clone-isolation invariant (spec.md §8, property 3).
type Value interface {
	Clone() Value
}
