package server

import (
	"strconv"
	"strings"
)

type aggregateOp string

const (
	opSum     aggregateOp = "SUM"
	opAverage aggregateOp = "AVERAGE"
	opMax     aggregateOp = "MAX"
	opMin     aggregateOp = "MIN"
)

func parseAggregateOp(raw string) (aggregateOp, bool) {
	switch aggregateOp(strings.ToUpper(raw)) {
	case opSum:
		return opSum, true
	case opAverage:
		return opAverage, true
	case opMax:
		return opMax, true
	case opMin:
		return opMin, true
	default:
		return "", false
	}
}

// computeAggregate evaluates op over the numeric lines of data. Lines that do
// not parse as numbers are skipped; with no numeric lines at all the result
// is the literal string "Null".
func computeAggregate(op aggregateOp, data []byte) string {
	var values []float64
	for _, line := range strings.Split(string(data), "\n") {
		value, err := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if err != nil {
			continue
		}
		values = append(values, value)
	}
	if len(values) == 0 {
		return "Null"
	}

	switch op {
	case opSum:
		return formatValue(sum(values))
	case opAverage:
		return formatDecimal(sum(values) / float64(len(values)))
	case opMax:
		result := values[0]
		for _, v := range values[1:] {
			if v > result {
				result = v
			}
		}
		return formatValue(result)
	case opMin:
		result := values[0]
		for _, v := range values[1:] {
			if v < result {
				result = v
			}
		}
		return formatValue(result)
	}
	return "Null"
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}

func formatValue(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// formatDecimal renders v with at least one fractional digit, so a whole
// number average reads "2.0" rather than "2".
func formatDecimal(v float64) string {
	s := formatValue(v)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}
