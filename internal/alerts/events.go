package alerts

import (
	"fmt"

	"github.com/shopspring/decimal"
)

func CycleDispatched(cycleID string, entry decimal.Decimal, size int64) string {
	return fmt.Sprintf("cycle %s: position size %d at entry %s", cycleID, size, entry.Truncate(0))
}

func CycleFailures(cycleID string, failed, placed int) string {
	return fmt.Sprintf("cycle %s: %d broker calls failed (%d orders placed)", cycleID, failed, placed)
}

func DeadZoneReversal(side string, price decimal.Decimal, size int64) string {
	return fmt.Sprintf("dead zone: placed %s %d @ %s", side, size, price)
}

func DeadZoneFailed(err error) string {
	return fmt.Sprintf("dead zone reversal failed: %v", err)
}
