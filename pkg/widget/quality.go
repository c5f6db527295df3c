package widget

import (
	"sort"
	"strconv"
	"strings"

	"github.com/samber/lo"
)

// QualityAuto lets the widget pick the quality adaptively.
const QualityAuto = "auto"

// Resolution returns the vertical resolution encoded in a quality identifier
// such as "160p" or "720p60", or 0 when the identifier carries none.
func Resolution(id string) int {
	end := strings.IndexFunc(id, func(r rune) bool { return r < '0' || r > '9' })
	if end <= 0 || id[end] != 'p' {
		return 0
	}
	n, err := strconv.Atoi(id[:end])
	if err != nil {
		return 0
	}
	return n
}

// Manual returns the offered qualities that name a fixed resolution,
// ordered from lowest to highest.
func Manual(qualities []string) []string {
	manual := lo.Filter(qualities, func(q string, _ int) bool {
		return q != QualityAuto && Resolution(q) > 0
	})
	sort.SliceStable(manual, func(i, j int) bool {
		return Resolution(manual[i]) < Resolution(manual[j])
	})
	return manual
}

// Lowest picks the lowest fixed quality among qualities. An exact match for
// preferred wins when offered. It returns "" when no fixed quality exists.
func Lowest(qualities []string, preferred string) string {
	if preferred != "" && lo.Contains(qualities, preferred) {
		return preferred
	}
	manual := Manual(qualities)
	if len(manual) == 0 {
		return ""
	}
	return manual[0]
}

// Reassert picks the quality to restore after a reload: the requested one
// (auto included) if it is still offered, otherwise the lowest fixed quality.
// It returns "" when nothing was requested.
func Reassert(qualities []string, requested string) string {
	if requested == "" {
		return ""
	}
	if lo.Contains(qualities, requested) {
		return requested
	}
	return Lowest(qualities, "")
}
