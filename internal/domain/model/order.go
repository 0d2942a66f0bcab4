package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind identifies the exchange protocol an order was signed for.
type OrderKind string

const (
	OrderKindWyvernV2        OrderKind = "wyvern-v2"
	OrderKindWyvernV23       OrderKind = "wyvern-v2.3"
	OrderKindLooksRare       OrderKind = "looks-rare"
	OrderKindZeroExV4ERC721  OrderKind = "zeroex-v4-erc721"
	OrderKindZeroExV4ERC1155 OrderKind = "zeroex-v4-erc1155"
	OrderKindOpenDaoERC721   OrderKind = "opendao-erc721"
	OrderKindOpenDaoERC1155  OrderKind = "opendao-erc1155"
	OrderKindFoundation      OrderKind = "foundation"
	OrderKindX2Y2            OrderKind = "x2y2"
	OrderKindSeaport         OrderKind = "seaport"
)

func (k OrderKind) String() string {
	return string(k)
}

type FillabilityStatus string

const (
	FillabilityFillable  FillabilityStatus = "fillable"
	FillabilityNoBalance FillabilityStatus = "no-balance"
	FillabilityCancelled FillabilityStatus = "cancelled"
	FillabilityFilled    FillabilityStatus = "filled"
	FillabilityExpired   FillabilityStatus = "expired"
)

// bulkCancellableStatuses are the only statuses a bulk cancel may move away from.
var bulkCancellableStatuses = []FillabilityStatus{FillabilityFillable, FillabilityNoBalance}

// BulkCancellableStatuses returns the statuses eligible for a bulk-cancel transition.
func BulkCancellableStatuses() []string {
	out := make([]string, len(bulkCancellableStatuses))
	for i, s := range bulkCancellableStatuses {
		out[i] = string(s)
	}
	return out
}

// IsBulkCancellable reports whether a bulk cancel may still transition the status.
func (s FillabilityStatus) IsBulkCancellable() bool {
	for _, c := range bulkCancellableStatuses {
		if s == c {
			return true
		}
	}
	return false
}

type Order struct {
	ID                string            `db:"id"`
	Kind              OrderKind         `db:"kind"`
	Maker             string            `db:"maker"`
	Nonce             decimal.Decimal   `db:"nonce"`
	FillabilityStatus FillabilityStatus `db:"fillability_status"`
	Expiration        *time.Time        `db:"expiration"`
	SourceID          *string           `db:"source_id"`
	SourceIDInt       *int              `db:"source_id_int"`
	UpdatedAt         time.Time         `db:"updated_at"`
}

// CancelledBy reports whether ev invalidates the order: same kind and maker,
// nonce strictly below the event's min nonce, and a status a bulk cancel may move.
func (o *Order) CancelledBy(ev *BulkCancelEvent) bool {
	if o.Kind != ev.OrderKind || o.Maker != ev.Maker {
		return false
	}
	if o.Nonce.GreaterThanOrEqual(ev.MinNonce) {
		return false
	}
	return o.FillabilityStatus.IsBulkCancellable()
}

// ApplyBulkCancel performs the transition in memory and reports whether it changed the order.
func (o *Order) ApplyBulkCancel(ev *BulkCancelEvent, now time.Time) bool {
	if !o.CancelledBy(ev) {
		return false
	}
	expiration := time.Unix(ev.Timestamp, 0).UTC()
	o.FillabilityStatus = FillabilityCancelled
	o.Expiration = &expiration
	o.UpdatedAt = now
	return true
}

// OrderSource is the projection scanned by the source resync.
type OrderSource struct {
	ID       string  `db:"id"`
	SourceID *string `db:"source_id"`
}
