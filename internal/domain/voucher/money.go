package voucher

import (
	"github.com/dustin/go-humanize"
	"github.com/shopspring/decimal"
)

// FormatVND renders an amount the way the storefront prints prices:
// dot-separated thousands and a trailing dong sign, e.g. "50.000₫".
func FormatVND(d decimal.Decimal) string {
	if d.Equal(d.Truncate(0)) {
		return humanize.FormatInteger("#.###,", int(d.IntPart())) + "₫"
	}
	return humanize.FormatFloat("#.###,##", d.InexactFloat64()) + "₫"
}
