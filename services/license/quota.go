package license

import (
	"strconv"
	"strings"
)

const (
	TierBasic        = "basic"
	TierProfessional = "professional"
	TierEnterprise   = "enterprise"

	maxSeatsFeature = "maxseats:"
)

var tierSeats = map[string]int{
	TierBasic:        1,
	TierProfessional: 3,
	TierEnterprise:   10,
}

// SeatQuota derives the concurrent seat limit of a license. An explicit
// MaxSeats:N entry in the feature string wins; otherwise the tier decides.
// Unknown tiers get a single seat.
func SeatQuota(tier, features string) int {
	if n, ok := parseMaxSeats(features); ok {
		return n
	}
	if n, ok := tierSeats[strings.ToLower(strings.TrimSpace(tier))]; ok {
		return n
	}
	return 1
}

func parseMaxSeats(features string) (int, bool) {
	fields := strings.FieldsFunc(features, func(r rune) bool {
		switch r {
		case ',', ';', '|', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})

	for _, f := range fields {
		if len(f) <= len(maxSeatsFeature) || !strings.EqualFold(f[:len(maxSeatsFeature)], maxSeatsFeature) {
			continue
		}
		n, err := strconv.Atoi(f[len(maxSeatsFeature):])
		if err != nil || n < 1 {
			continue
		}
		return n, true
	}
	return 0, false
}

// Modules returns the entitled module names of the feature string, without
// quota entries.
func Modules(features string) []string {
	var modules []string
	for _, f := range strings.FieldsFunc(features, func(r rune) bool { return r == ',' || r == ';' || r == '|' }) {
		f = strings.TrimSpace(f)
		if f == "" || strings.HasPrefix(strings.ToLower(f), maxSeatsFeature) {
			continue
		}
		modules = append(modules, f)
	}
	return modules
}
