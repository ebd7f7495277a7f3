package effects

// Registry is an ordered set of effects. The first entry is the fallback.
type Registry struct {
	effects []Effect
}

// NewRegistry keeps effects in the given order.
func NewRegistry(effects ...Effect) *Registry {
	return &Registry{effects: append([]Effect(nil), effects...)}
}

// DefaultRegistry returns the built-in effects.
func DefaultRegistry() *Registry {
	return NewRegistry(Tunnel{}, Rings{}, Burst{})
}

// Lookup returns the effect with id, or the first effect when none matches.
// It returns nil only for an empty registry.
func (r *Registry) Lookup(id string) Effect {
	if len(r.effects) == 0 {
		return nil
	}
	for _, e := range r.effects {
		if e.ID() == id {
			return e
		}
	}
	return r.effects[0]
}

// Has reports whether id names a registered effect.
func (r *Registry) Has(id string) bool {
	for _, e := range r.effects {
		if e.ID() == id {
			return true
		}
	}
	return false
}

// IDs lists effect ids in registry order.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.effects))
	for i, e := range r.effects {
		out[i] = e.ID()
	}
	return out
}

// All returns the effects in order.
func (r *Registry) All() []Effect {
	return append([]Effect(nil), r.effects...)
}
