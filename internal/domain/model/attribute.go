package model

type AttributeKind string

const (
	AttributeKindString AttributeKind = "string"
	AttributeKindNumber AttributeKind = "number"
	AttributeKindDate   AttributeKind = "date"
	AttributeKindRange  AttributeKind = "range"
)

func (k AttributeKind) Valid() bool {
	switch k {
	case AttributeKindString, AttributeKindNumber, AttributeKindDate, AttributeKindRange:
		return true
	}
	return false
}

type AttributeValue struct {
	Value  string   `json:"value"`
	Count  int64    `json:"count"`
	Tokens []string `json:"tokens"`
}

// StaticAttribute is a ranked attribute key with every value and the tokens carrying it.
type StaticAttribute struct {
	Key    string           `json:"key"`
	Kind   AttributeKind    `json:"kind"`
	Values []AttributeValue `json:"values"`
}
