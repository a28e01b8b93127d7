package extract

import (
	"regexp"
	"strings"

	"github.com/sec-certs/certdb/pkg/types"
)

// The frontpage block lives in the first pages of a certification
// report. Only that head is scanned so body text cannot shadow it.
const frontpageHead = 6000

var (
	frontLevelRe     = regexp.MustCompile(`\b(EAL\s?[1-7]\+?(?:\s?augmented(?:\s?(?:by|with)[^\n]{0,80})?)?)`)
	frontDeveloperRe = regexp.MustCompile(`(?i)(?:developer|sponsor and developer|manufacturer|developed by)\s*:?\s*([^\n]{2,100})`)
	frontDateRe      = regexp.MustCompile(`(?i)(?:certification date|date of issue|issue date|valid from)\s*:?\s*([^\n]{4,40})`)

	// ordered so the first matching phrase names the scheme
	frontSchemes = []struct {
		code string
		re   *regexp.Regexp
	}{
		{"DE", regexp.MustCompile(`Bundesamt für Sicherheit in der Informationstechnik|BSI-DSZ-CC`)},
		{"FR", regexp.MustCompile(`Agence nationale de la sécurité des systèmes d'information|ANSSI-CC`)},
		{"NL", regexp.MustCompile(`TrustCB|NSCIB-CC`)},
		{"US", regexp.MustCompile(`National Information Assurance Partnership|CCEVS`)},
		{"ES", regexp.MustCompile(`Centro Criptológico Nacional|-INF-`)},
		{"SE", regexp.MustCompile(`CSEC\d|FMV/CSEC`)},
		{"JP", regexp.MustCompile(`Japan Information Technology Security Evaluation|JISEC`)},
		{"KR", regexp.MustCompile(`IT Security Certification Center|KECS-`)},
		{"AU", regexp.MustCompile(`Australian (?:Signals Directorate|Certification Authority)`)},
		{"CA", regexp.MustCompile(`Canadian Centre for Cyber Security|Communications Security Establishment`)},
	}
)

// ParseFrontpage pulls the summary block out of a CC certification
// report text. Missing fields stay empty; a report with nothing
// recognizable still yields a frontpage with the fields it did match,
// or nil when nothing matched at all.
func ParseFrontpage(text string) *types.Frontpage {
	head := text
	if len(head) > frontpageHead {
		head = head[:frontpageHead]
	}

	fp := &types.Frontpage{}
	for _, s := range frontSchemes {
		if s.re.MatchString(head) {
			fp.Scheme = s.code
			break
		}
	}
	if m := frontLevelRe.FindStringSubmatch(head); m != nil {
		fp.Level = strings.TrimRight(strings.Join(strings.Fields(m[1]), " "), " .,")
	}
	if m := frontDeveloperRe.FindStringSubmatch(head); m != nil {
		fp.Developer = strings.TrimRight(strings.TrimSpace(m[1]), ".,")
	}
	if m := frontDateRe.FindStringSubmatch(head); m != nil {
		fp.CertDate = strings.TrimSpace(m[1])
	}

	if fp.Scheme == "" && fp.Level == "" && fp.Developer == "" && fp.CertDate == "" {
		return nil
	}
	return fp
}
