package state

import (
	"fmt"

	"github.com/sandpolis/sandpolis/internal/codec"
	"github.com/sandpolis/sandpolis/internal/oid"
)

// wireEntry is the per-attribute encoding of one Entry:
// [kind, payload, timestamp].
type wireEntry struct {
	_         struct{} `cbor:",toarray"`
	Kind      ValueKind
	Payload   codec.RawMessage
	Timestamp int64
}

type wireDocument struct {
	Partial     bool                       `cbor:"0,keyasint,omitempty"`
	Attributes  map[uint32][]wireEntry     `cbor:"1,keyasint,omitempty"`
	Documents   map[uint32]*wireDocument   `cbor:"2,keyasint,omitempty"`
	Collections map[uint32]*wireCollection `cbor:"3,keyasint,omitempty"`
	Relations   map[uint32]string          `cbor:"4,keyasint,omitempty"`
}

type wireCollection struct {
	Partial   bool                     `cbor:"0,keyasint,omitempty"`
	Documents map[uint32]*wireDocument `cbor:"1,keyasint,omitempty"`
}

// EncodeAttribute returns the CBOR form of an attribute snapshot. Equal
// snapshots always encode to identical bytes.
func EncodeAttribute(snap AttributeSnapshot) ([]byte, error) {
	entries, err := toWireEntries(snap)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(entries)
}

// DecodeAttribute parses the output of EncodeAttribute.
func DecodeAttribute(data []byte) (AttributeSnapshot, error) {
	var entries []wireEntry
	if err := codec.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("decode attribute snapshot: %w", err)
	}
	return fromWireEntries(entries)
}

// EncodeDocument returns the CBOR form of a document snapshot.
func EncodeDocument(snap *DocumentSnapshot) ([]byte, error) {
	w, err := toWireDocument(snap)
	if err != nil {
		return nil, err
	}
	return codec.Marshal(w)
}

// DecodeDocument parses the output of EncodeDocument.
func DecodeDocument(data []byte) (*DocumentSnapshot, error) {
	var w wireDocument
	if err := codec.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode document snapshot: %w", err)
	}
	return fromWireDocument(&w)
}

func toWireEntries(snap AttributeSnapshot) ([]wireEntry, error) {
	// Never nil: absent encodes as an empty array.
	out := make([]wireEntry, 0, len(snap))
	for _, e := range snap {
		if e.Value == nil {
			return nil, fmt.Errorf("encode attribute snapshot: absent value in entry at %d", e.Timestamp)
		}
		payload, err := encodeValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode %s value: %w", e.Value.Kind(), err)
		}
		out = append(out, wireEntry{Kind: e.Value.Kind(), Payload: payload, Timestamp: e.Timestamp})
	}
	return out, nil
}

func fromWireEntries(entries []wireEntry) (AttributeSnapshot, error) {
	snap := make(AttributeSnapshot, 0, len(entries))
	for _, e := range entries {
		v, err := decodeValue(e.Kind, e.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode attribute snapshot: %w", err)
		}
		snap = append(snap, Entry{Value: v, Timestamp: e.Timestamp})
	}
	return snap, nil
}

func toWireDocument(snap *DocumentSnapshot) (*wireDocument, error) {
	if snap == nil {
		return &wireDocument{}, nil
	}
	w := &wireDocument{Partial: snap.Partial}

	if len(snap.Attributes) > 0 {
		w.Attributes = make(map[uint32][]wireEntry, len(snap.Attributes))
		for tag, a := range snap.Attributes {
			entries, err := toWireEntries(a)
			if err != nil {
				return nil, err
			}
			w.Attributes[tag] = entries
		}
	}
	if len(snap.Documents) > 0 {
		w.Documents = make(map[uint32]*wireDocument, len(snap.Documents))
		for tag, d := range snap.Documents {
			child, err := toWireDocument(d)
			if err != nil {
				return nil, err
			}
			w.Documents[tag] = child
		}
	}
	if len(snap.Collections) > 0 {
		w.Collections = make(map[uint32]*wireCollection, len(snap.Collections))
		for tag, c := range snap.Collections {
			wc := &wireCollection{}
			if c != nil {
				wc.Partial = c.Partial
				if len(c.Documents) > 0 {
					wc.Documents = make(map[uint32]*wireDocument, len(c.Documents))
					for elem, d := range c.Documents {
						child, err := toWireDocument(d)
						if err != nil {
							return nil, err
						}
						wc.Documents[elem] = child
					}
				}
			}
			w.Collections[tag] = wc
		}
	}
	if len(snap.Relations) > 0 {
		w.Relations = make(map[uint32]string, len(snap.Relations))
		for tag, target := range snap.Relations {
			w.Relations[tag] = target.String()
		}
	}
	return w, nil
}

func fromWireDocument(w *wireDocument) (*DocumentSnapshot, error) {
	snap := &DocumentSnapshot{
		Partial:     w.Partial,
		Attributes:  make(map[uint32]AttributeSnapshot, len(w.Attributes)),
		Documents:   make(map[uint32]*DocumentSnapshot, len(w.Documents)),
		Collections: make(map[uint32]*CollectionSnapshot, len(w.Collections)),
		Relations:   make(map[uint32]oid.Oid, len(w.Relations)),
	}
	for tag, entries := range w.Attributes {
		a, err := fromWireEntries(entries)
		if err != nil {
			return nil, err
		}
		snap.Attributes[tag] = a
	}
	for tag, wd := range w.Documents {
		if wd == nil {
			wd = &wireDocument{}
		}
		d, err := fromWireDocument(wd)
		if err != nil {
			return nil, err
		}
		snap.Documents[tag] = d
	}
	for tag, wc := range w.Collections {
		c := &CollectionSnapshot{Documents: make(map[uint32]*DocumentSnapshot)}
		if wc != nil {
			c.Partial = wc.Partial
			for elem, wd := range wc.Documents {
				if wd == nil {
					wd = &wireDocument{}
				}
				d, err := fromWireDocument(wd)
				if err != nil {
					return nil, err
				}
				c.Documents[elem] = d
			}
		}
		snap.Collections[tag] = c
	}
	for tag, text := range w.Relations {
		target, err := oid.Parse(text)
		if err != nil {
			return nil, fmt.Errorf("decode relation %d: %w", tag, err)
		}
		snap.Relations[tag] = target
	}
	return snap, nil
}
