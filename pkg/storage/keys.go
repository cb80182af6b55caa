package storage

import (
	"fmt"

	"github.com/minhopark/escrowbook/pkg/engine"
)

// Pebble key schema.
// Order IDs and event sequence numbers are zero-padded to 20 digits so that
// lexicographic key order equals numeric order, which lets recovery and
// event reads use plain prefix scans.
const (
	prefixSellOrder = "sord:"
	prefixBuyOrder  = "bord:"
	prefixEvent     = "ev:"
)

func orderKey(side engine.Side, id uint64) []byte {
	p := prefixSellOrder
	if side == engine.Buy {
		p = prefixBuyOrder
	}
	return []byte(fmt.Sprintf("%s%020d", p, id))
}

func orderPrefix(side engine.Side) []byte {
	if side == engine.Buy {
		return []byte(prefixBuyOrder)
	}
	return []byte(prefixSellOrder)
}

func eventKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefixEvent, seq))
}

func eventPrefix() []byte {
	return []byte(prefixEvent)
}

// keyUpperBound returns the exclusive upper bound for a prefix scan.
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}
