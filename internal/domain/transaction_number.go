package domain

import (
	"fmt"
	"strings"
	"time"
)

// FormatTransactionNumber renders the receipt number printed for a sale,
// e.g. TRX-STORE1-20250908-000042.
func FormatTransactionNumber(storeID string, at time.Time, seq int64) string {
	return fmt.Sprintf("TRX-%s-%s-%06d", strings.ToUpper(storeID), at.Format("20060102"), seq)
}
