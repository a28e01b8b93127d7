package types

import (
	"encoding/json"

	"github.com/samber/oops"
)

// taggedCertificate is the wire form of a certificate: a scheme tag plus
// the concrete object. Unknown tags fail deserialization loudly rather
// than producing a half-typed record.
type taggedCertificate struct {
	Type Scheme          `json:"type"`
	Cert json.RawMessage `json:"cert"`
}

// MarshalCertificate encodes a certificate with its scheme tag.
func MarshalCertificate(c Certificate) ([]byte, error) {
	eb := oops.With("digest", c.Digest())

	raw, err := json.Marshal(c)
	if err != nil {
		return nil, eb.Wrapf(err, "certificate encode error")
	}
	return json.Marshal(taggedCertificate{
		Type: c.CertScheme(),
		Cert: raw,
	})
}

// UnmarshalCertificate decodes a tagged certificate, dispatching on the
// scheme tag.
func UnmarshalCertificate(data []byte) (Certificate, error) {
	var tagged taggedCertificate
	if err := json.Unmarshal(data, &tagged); err != nil {
		return nil, oops.Wrapf(err, "certificate envelope decode error")
	}

	eb := oops.With("type", string(tagged.Type))
	switch tagged.Type {
	case SchemeCC:
		var c CCCertificate
		if err := json.Unmarshal(tagged.Cert, &c); err != nil {
			return nil, eb.Wrapf(err, "cc certificate decode error")
		}
		return &c, nil
	case SchemeFIPS:
		var c FIPSCertificate
		if err := json.Unmarshal(tagged.Cert, &c); err != nil {
			return nil, eb.Wrapf(err, "fips certificate decode error")
		}
		return &c, nil
	default:
		return nil, eb.Errorf("unknown certificate type: %q", tagged.Type)
	}
}
