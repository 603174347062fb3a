package instance

import (
	"github.com/sandpolis/sandpolis/internal/oid"
	"github.com/sandpolis/sandpolis/internal/schema"
	"github.com/sandpolis/sandpolis/internal/state"
)

// RetentionPolicy applies the retention declared by s to attributes as
// the tree creates them.
func RetentionPolicy(s *schema.Schema) state.RetentionPolicy {
	return func(o oid.Oid) (state.Retention, bool) {
		rule, ok := s.RetentionFor(o)
		if !ok {
			return state.Retention{}, false
		}
		switch rule.Kind {
		case schema.RetentionUnlimited:
			return state.Unlimited(), true
		case schema.RetentionItems:
			return state.ItemLimited(rule.Items), true
		case schema.RetentionTime:
			return state.TimeLimited(rule.Duration), true
		default:
			return state.Retention{}, false
		}
	}
}
