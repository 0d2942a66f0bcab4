package model

import "strings"

// SourceTable maps a marketplace source address to its compact integer code.
type SourceTable map[string]int

// DefaultSourceTable holds the marketplaces known before any configuration overlay.
func DefaultSourceTable() SourceTable {
	return SourceTable{
		"0x5b3256965e7c3cf26e11fcaf296dfc8807c01073": 1, // OpenSea
		"0xfdfda3d504b1431ea0fd70084b1bfa39fa99dcc4": 2, // Forgotten Market
		"0x5924a28caaf1cc016617874a2f0c3710d881f3c1": 3, // LooksRare
	}
}

func (t SourceTable) Lookup(address string) (int, bool) {
	code, ok := t[strings.ToLower(strings.TrimSpace(address))]
	return code, ok
}

// Merge returns a copy of t with entries from other taking precedence.
func (t SourceTable) Merge(other map[string]int) SourceTable {
	out := make(SourceTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[strings.ToLower(strings.TrimSpace(k))] = v
	}
	return out
}
