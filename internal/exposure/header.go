package exposure

import (
	"sort"
	"strconv"
	"strings"

	"fakematch/internal/logging"
)

// FakePosition is one injected source recorded in the exposure header.
type FakePosition struct {
	ID   int64
	X, Y float64
}

// ParseFakeHeader extracts injected-source positions from exposure
// metadata. The injection task records each fake as a header key
// FAKE<id> whose value is "x, y" in pixel coordinates. Malformed
// entries are skipped and their keys returned for the caller to warn
// about. Results are sorted by fake ID.
func ParseFakeHeader(md Metadata) ([]FakePosition, []string) {
	var fakes []FakePosition
	var bad []string

	for key, value := range md {
		if !strings.HasPrefix(key, "FAKE") {
			continue
		}
		id, err := strconv.ParseInt(key[len("FAKE"):], 10, 64)
		if err != nil {
			// Keys like FAKETYPE belong to other tasks, not positions.
			continue
		}

		x, y, ok := parseXY(value)
		if !ok {
			logging.MatchDebug("malformed fake header %s=%q", key, value)
			bad = append(bad, key)
			continue
		}
		fakes = append(fakes, FakePosition{ID: id, X: x, Y: y})
	}

	sort.Slice(fakes, func(i, j int) bool { return fakes[i].ID < fakes[j].ID })
	sort.Strings(bad)
	return fakes, bad
}

// parseXY parses the "x, y" value format written by the injection task.
func parseXY(value string) (x, y float64, ok bool) {
	parts := strings.Split(value, ",")
	if len(parts) != 2 {
		return 0, 0, false
	}
	x, errX := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	y, errY := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if errX != nil || errY != nil {
		return 0, 0, false
	}
	return x, y, true
}
