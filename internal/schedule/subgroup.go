package schedule

import (
	"fmt"
	"regexp"
	"strings"
)

// SubgroupID identifies one of the publisher's 12 rotation-outage subgroups,
// in canonical dotted form ("1.1" .. "6.2").
//
// The publisher is inconsistent about separators: both "1.1" and "1,1" appear
// in the wild. Parsing normalizes either form to the dotted one.
type SubgroupID string

const (
	majorMin = 1
	majorMax = 6
	minorMin = 1
	minorMax = 2
)

// idToken matches a subgroup reference inside free text: major 1-6, a dot or
// comma separator, minor 1-2.
var idToken = regexp.MustCompile(`([1-6])\s*[.,]\s*([12])`)

// ParseSubgroup parses a single subgroup reference.
func ParseSubgroup(s string) (SubgroupID, bool) {
	m := idToken.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", false
	}
	return SubgroupID(m[1] + "." + m[2]), true
}

// ParseSubgroupList extracts every valid subgroup reference from free text,
// in order of appearance, without duplicates. Text that contains no valid
// reference yields an empty slice; out-of-range pairs like "9.9" never match.
func ParseSubgroupList(s string) []SubgroupID {
	var out []SubgroupID
	seen := map[SubgroupID]struct{}{}
	for _, m := range idToken.FindAllStringSubmatch(s, -1) {
		id := SubgroupID(m[1] + "." + m[2])
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// Valid reports whether the id is one of the 12 published subgroups.
func (id SubgroupID) Valid() bool {
	parsed, ok := ParseSubgroup(string(id))
	return ok && parsed == id
}

// AllSubgroups returns the full valid set in display order.
func AllSubgroups() []SubgroupID {
	out := make([]SubgroupID, 0, (majorMax-majorMin+1)*(minorMax-minorMin+1))
	for major := majorMin; major <= majorMax; major++ {
		for minor := minorMin; minor <= minorMax; minor++ {
			out = append(out, SubgroupID(fmt.Sprintf("%d.%d", major, minor)))
		}
	}
	return out
}
