package types

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fatih/color"
)

// Scheme identifies a certification framework.
type Scheme string

const (
	SchemeCC   Scheme = "cc"
	SchemeFIPS Scheme = "fips"
)

// Status is the lifecycle state of a certificate within its scheme.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusArchived
	StatusRevoked
	StatusHistorical
)

var (
	StatusNames = []string{
		"unknown",
		"active",
		"archived",
		"revoked",
		"historical",
	}
	StatusColor = []func(a ...interface{}) string{
		color.New(color.FgCyan).SprintFunc(),
		color.New(color.FgGreen).SprintFunc(),
		color.New(color.FgYellow).SprintFunc(),
		color.New(color.FgRed).SprintFunc(),
		color.New(color.FgBlue).SprintFunc(),
	}
)

func NewStatus(status string) (Status, error) {
	for i, name := range StatusNames {
		if status == name {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown status: %s", status)
}

func (s Status) String() string {
	if int(s) < 0 || int(s) >= len(StatusNames) {
		return StatusNames[StatusUnknown]
	}
	return StatusNames[s]
}

func ColorizeStatus(status string) string {
	for i, name := range StatusNames {
		if status == name {
			return StatusColor[i](status)
		}
	}
	return color.New(color.FgCyan).SprintFunc()(status)
}

func (s Status) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

func (s *Status) UnmarshalJSON(data []byte) error {
	name := string(data)
	if len(name) >= 2 && name[0] == '"' {
		name = name[1 : len(name)-1]
	}
	v, err := NewStatus(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// Certificate is the common surface of CC and FIPS certificate entries.
// Concrete types are distinguished by a scheme tag during (de)serialization.
type Certificate interface {
	Digest() string
	CertName() string
	Vendor() string
	CertScheme() Scheme
	CertStatus() Status
	CertState() *State
	CertPdfData() *PdfData
	CertHeuristics() *Heuristics
}

// ComputeDigest derives the stable 16-hex-character certificate identifier
// from the scheme's canonical identifying fields.
func ComputeDigest(fields ...string) string {
	h := sha256.New()
	for _, f := range fields {
		h.Write([]byte(f))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// ParseDate tries the given layouts in order and returns nil when none match.
func ParseDate(s string, layouts ...string) *time.Time {
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
