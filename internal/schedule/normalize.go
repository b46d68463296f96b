package schedule

import (
	"regexp"
	"sort"
	"strings"
)

// Snapshot is the canonical form of one day's published schedule: up to two
// free-text header lines (publication metadata, display-only) and one outage
// line per subgroup.
type Snapshot struct {
	Headers []string
	Lines   map[SubgroupID]string
}

// subgroupLine matches a schedule line at line start, case-insensitive:
// "Subgroup 3.2. ..." (comma separator tolerated).
var subgroupLine = regexp.MustCompile(`(?i)^subgroup\s+([1-6])\s*[.,]\s*([12])\s*\.`)

// maxHeaderLines is how many leading non-subgroup lines are kept as headers.
const maxHeaderLines = 2

// Normalize reduces a raw text blob to a Snapshot. Pure: split into lines,
// trim, drop blanks; the first up to two non-subgroup lines become headers;
// lines matching the subgroup pattern populate the map (last occurrence wins);
// anything else is ignored.
func Normalize(raw string) Snapshot {
	snap := Snapshot{Lines: map[SubgroupID]string{}}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if m := subgroupLine.FindStringSubmatch(line); m != nil {
			snap.Lines[SubgroupID(m[1]+"."+m[2])] = line
			continue
		}
		if len(snap.Headers) < maxHeaderLines && len(snap.Lines) == 0 {
			snap.Headers = append(snap.Headers, line)
		}
	}
	return snap
}

// IsSubgroupLine reports whether a rendered line carries real schedule content
// (as opposed to headers or placeholders).
func IsSubgroupLine(line string) bool {
	return subgroupLine.MatchString(strings.TrimSpace(line))
}

// Render rebuilds the canonical text form: headers, then subgroup lines in id
// order. Normalize(s.Render()) reproduces s.
func (s Snapshot) Render() string {
	var b strings.Builder
	for _, h := range s.Headers {
		b.WriteString(h)
		b.WriteString("\n")
	}
	ids := make([]SubgroupID, 0, len(s.Lines))
	for id := range s.Lines {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		b.WriteString(s.Lines[id])
		b.WriteString("\n")
	}
	return b.String()
}

// Empty reports whether the snapshot carries no subgroup lines at all.
func (s Snapshot) Empty() bool { return len(s.Lines) == 0 }
