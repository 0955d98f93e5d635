package money

import "github.com/shopspring/decimal"

// Split distributes total across weights proportionally. Every part but the
// last positive-weight part is floor(total * w / sum); the last one absorbs the
// remainder, so the parts always sum to total. Non-positive weights receive 0.
// When no weight is positive the result is all zeros.
func Split(total int64, weights []int64) []int64 {
	parts := make([]int64, len(weights))
	if total == 0 || len(weights) == 0 {
		return parts
	}

	var sum int64
	last := -1
	for i, w := range weights {
		if w > 0 {
			sum += w
			last = i
		}
	}
	if last < 0 {
		return parts
	}

	var allocated int64
	dTotal := decimal.NewFromInt(total)
	dSum := decimal.NewFromInt(sum)
	for i, w := range weights {
		if w <= 0 {
			continue
		}
		if i == last {
			parts[i] = total - allocated
			break
		}
		parts[i] = floorQuo(dTotal.Mul(decimal.NewFromInt(w)), dSum)
		allocated += parts[i]
	}
	return parts
}

// floorQuo is floor(num / den) for a positive den, computed without the
// rounding Div applies at DivisionPrecision.
func floorQuo(num, den decimal.Decimal) int64 {
	q, r := num.QuoRem(den, 0)
	if r.IsNegative() {
		q = q.Sub(decimal.NewFromInt(1))
	}
	return q.IntPart()
}
