package heuristics

import (
	"regexp"
	"sort"
)

// The layered version patterns, in priority order. Later patterns only
// contribute matches outside the spans already claimed, so "Foo v1.2"
// yields {1.2} and not also the bare integers 1 and 2.
var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bversion\s+(\d+(?:\.\d+){0,2})\b`),
	regexp.MustCompile(`(?i)\bv\.?\s?(\d+(?:\.\d+){1,2})\b`),
	regexp.MustCompile(`\b(\d+\.\d+(?:\.\d+)?)\b`),
	regexp.MustCompile(`\b(\d+)\b`),
}

type span struct{ start, end int }

func (s span) overlaps(other span) bool {
	return s.start < other.end && other.start < s.end
}

// ExtractVersions pulls candidate product versions out of a certificate
// name. The result is sorted and deduplicated; empty when the name
// carries no version at all.
func ExtractVersions(name string) []string {
	var (
		claimed  []span
		versions = make(map[string]struct{})
	)
	for _, re := range versionPatterns {
		for _, m := range re.FindAllStringSubmatchIndex(name, -1) {
			full := span{start: m[0], end: m[1]}
			taken := false
			for _, c := range claimed {
				if full.overlaps(c) {
					taken = true
					break
				}
			}
			if taken {
				continue
			}
			claimed = append(claimed, full)
			versions[name[m[2]:m[3]]] = struct{}{}
		}
	}

	out := make([]string, 0, len(versions))
	for v := range versions {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
