package utils

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// tradeNamespace scopes trade ids so they never collide with other name-based uuids.
var tradeNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("argo-backtest/trade"))

// NewTradeID derives a trade id from the run-local sequence number and order identity.
// Identical runs produce identical ids.
func NewTradeID(sequence int, date time.Time, ticker string, side string) string {
	name := fmt.Sprintf("%d|%s|%s|%s", sequence, date.Format(time.RFC3339), ticker, side)

	return uuid.NewSHA1(tradeNamespace, []byte(name)).String()
}
