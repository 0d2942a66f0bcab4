package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// BaseEventParams carries the log coordinates shared by every decoded on-chain event.
type BaseEventParams struct {
	Address    string `json:"address"`
	Block      int64  `json:"block"`
	BlockHash  string `json:"blockHash"`
	TxHash     string `json:"txHash"`
	TxIndex    int    `json:"txIndex"`
	LogIndex   int    `json:"logIndex"`
	BatchIndex int    `json:"batchIndex"`
	Timestamp  int64  `json:"timestamp"`
}

// EventIdentity uniquely identifies a log entry across reorgs.
type EventIdentity struct {
	BlockHash  string
	TxHash     string
	TxIndex    int
	LogIndex   int
	BatchIndex int
}

func (p BaseEventParams) Identity() EventIdentity {
	return EventIdentity{
		BlockHash:  p.BlockHash,
		TxHash:     p.TxHash,
		TxIndex:    p.TxIndex,
		LogIndex:   p.LogIndex,
		BatchIndex: p.BatchIndex,
	}
}

func (id EventIdentity) String() string {
	return fmt.Sprintf("%s:%s:%d:%d:%d", id.BlockHash, id.TxHash, id.TxIndex, id.LogIndex, id.BatchIndex)
}

// BulkCancelEvent invalidates every order of Maker/OrderKind with a nonce below MinNonce.
// Nonces are uint256 on chain; MinNonce decodes from a JSON number or string.
type BulkCancelEvent struct {
	BaseEventParams
	OrderKind OrderKind       `json:"orderKind"`
	Maker     string          `json:"maker"`
	MinNonce  decimal.Decimal `json:"minNonce"`
}
