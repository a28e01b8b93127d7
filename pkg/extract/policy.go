package extract

import (
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Security policies list validated algorithm implementations in tables.
// After pdftotext -layout those rows keep the algorithm name and the CAVP
// certificate number on one line, so a line-scoped pattern stays precise
// where the free-text pass would not be.
var policyRowRe = regexp.MustCompile(`(?i)\b(?:AES|Triple-DES|TDES|SHS|SHA|HMAC|RSA|DSA|ECDSA|DRBG|KAS|KTS|CVL|KBKDF|PBKDF|CKG|ENT)\b[^\n]{0,120}?(?:Cert\.?s?\s?|Certificate\s?|A?#\s?)(\d{1,5})\b`)

// ParsePolicyTables recovers CAVP algorithm certificate numbers from
// table rows of a security-policy text. The result is sorted and
// deduplicated; nil when no rows match.
func ParsePolicyTables(text string) []int {
	seen := make(map[int]struct{})
	for _, line := range strings.Split(text, "\n") {
		for _, m := range policyRowRe.FindAllStringSubmatch(line, -1) {
			n, err := strconv.Atoi(m[1])
			if err != nil || n == 0 {
				continue
			}
			seen[n] = struct{}{}
		}
	}
	if len(seen) == 0 {
		return nil
	}
	nums := make([]int, 0, len(seen))
	for n := range seen {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	return nums
}
