package state

import (
	"fmt"
	"time"
)

// RetentionKind selects how much history an attribute keeps.
type RetentionKind int

const (
	// RetentionNone overwrites in place and keeps no history.
	RetentionNone RetentionKind = iota
	RetentionUnlimited
	RetentionTimeLimited
	RetentionItemLimited
)

// Retention is an attribute's history policy. The zero value keeps no
// history.
type Retention struct {
	Kind  RetentionKind
	Limit time.Duration // RetentionTimeLimited
	Items int           // RetentionItemLimited
}

// Unlimited keeps every past value.
func Unlimited() Retention { return Retention{Kind: RetentionUnlimited} }

// TimeLimited keeps past values whose timestamp is no older than limit
// before the current value's timestamp.
func TimeLimited(limit time.Duration) Retention {
	return Retention{Kind: RetentionTimeLimited, Limit: limit}
}

// ItemLimited keeps at most n past values.
func ItemLimited(n int) Retention {
	return Retention{Kind: RetentionItemLimited, Items: n}
}

// Retains reports whether Set pushes the previous value onto history.
func (r Retention) Retains() bool { return r.Kind != RetentionNone }

func (r Retention) String() string {
	switch r.Kind {
	case RetentionNone:
		return "none"
	case RetentionUnlimited:
		return "unlimited"
	case RetentionTimeLimited:
		return "time:" + r.Limit.String()
	case RetentionItemLimited:
		return fmt.Sprintf("items:%d", r.Items)
	default:
		return fmt.Sprintf("Retention(%d)", int(r.Kind))
	}
}

// enforce trims history, oldest first, so it satisfies r. current is the
// timestamp of the current value in unix milliseconds.
func (r Retention) enforce(history []Entry, current int64) []Entry {
	switch r.Kind {
	case RetentionTimeLimited:
		cutoff := current - r.Limit.Milliseconds()
		drop := 0
		for drop < len(history) && history[drop].Timestamp < cutoff {
			drop++
		}
		return trimFront(history, drop)
	case RetentionItemLimited:
		limit := max(r.Items, 0)
		if len(history) > limit {
			return trimFront(history, len(history)-limit)
		}
	}
	return history
}

func trimFront(history []Entry, n int) []Entry {
	if n == 0 {
		return history
	}
	for i := range n {
		history[i] = Entry{}
	}
	if n == len(history) {
		return history[:0]
	}
	return history[n:]
}
