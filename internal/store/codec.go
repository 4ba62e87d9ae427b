package store

import (
	"encoding/json"
	"strings"
)

// The wire protocol (package protocol) owns the varint-framed JSON
// envelope encoding used between nodes; what the store persists to its own
// SQLite index and sharded files is a separate, JSON-based encoding of
// the CRDT payload types below. This mirrors how the teacher's node
// package encodes SwapMessage as JSON for its own envelopes while the
// libp2p transport frames bytes underneath — persistence format and wire
// format are independent concerns.

func encodeRegisterEntry(e *RegisterEntry) ([]byte, error) { return json.Marshal(e) }

func decodeRegisterEntry(b []byte) (*RegisterEntry, error) {
	var e RegisterEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

func encodeRegisterEntries(es []*RegisterEntry) ([]byte, error) { return json.Marshal(es) }

func decodeRegisterEntries(b []byte) ([]*RegisterEntry, error) {
	var es []*RegisterEntry
	if err := json.Unmarshal(b, &es); err != nil {
		return nil, err
	}
	return es, nil
}

func encodeLinkedListItem(it *LinkedListItem) ([]byte, error) { return json.Marshal(it) }

func decodeLinkedListItem(b []byte) (*LinkedListItem, error) {
	var it LinkedListItem
	if err := json.Unmarshal(b, &it); err != nil {
		return nil, err
	}
	return &it, nil
}

func encodeScratchpad(s *Scratchpad) ([]byte, error) { return json.Marshal(s) }

func decodeScratchpad(b []byte) (*Scratchpad, error) {
	var s Scratchpad
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func encodeSpend(s *Spend) ([]byte, error) { return json.Marshal(s) }

func decodeSpend(b []byte) (*Spend, error) {
	var s Spend
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func encodeLinkedListState(items []*LinkedListItem) ([]byte, error) { return json.Marshal(items) }

func decodeLinkedListState(b []byte) ([]*LinkedListItem, error) {
	var items []*LinkedListItem
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, err
	}
	return items, nil
}

func joinStrings(parts []string, sep string) string { return strings.Join(parts, sep) }

func splitStrings(s, sep string) []string { return strings.Split(s, sep) }
