package record

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"golang.org/x/text/unicode/norm"
)

// DomainSchema separates schema fingerprints from any other hash the
// store might compute. The version suffix allows changing the algorithm.
const DomainSchema = "roberto/schema/v1"

// hashWithDomain computes SHA256(domain + 0x00 + data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// IdentityHash fingerprints the descriptor. Tables are sorted by name and
// columns by name, and every identifier is NFC-normalised, so the hash only
// changes when the structure does.
func (s SchemaDescriptor) IdentityHash() (string, error) {
	canonical, err := s.canonical()
	if err != nil {
		return "", fmt.Errorf("schema identity: %w", err)
	}
	return hashWithDomain(DomainSchema, canonical), nil
}

// MustIdentityHash is IdentityHash for package-level descriptors that are
// known to be encodable.
func (s SchemaDescriptor) MustIdentityHash() string {
	h, err := s.IdentityHash()
	if err != nil {
		panic(err)
	}
	return h
}

func (s SchemaDescriptor) canonical() ([]byte, error) {
	c := SchemaDescriptor{
		Version: s.Version,
		Tables:  make([]TableDescriptor, len(s.Tables)),
	}
	for i, t := range s.Tables {
		cols := make([]Column, len(t.Columns))
		for j, col := range t.Columns {
			col.Name = norm.NFC.String(col.Name)
			col.Type = norm.NFC.String(col.Type)
			cols[j] = col
		}
		sort.Slice(cols, func(a, b int) bool { return cols[a].Name < cols[b].Name })
		c.Tables[i] = TableDescriptor{Name: norm.NFC.String(t.Name), Columns: cols}
	}
	sort.Slice(c.Tables, func(a, b int) bool { return c.Tables[a].Name < c.Tables[b].Name })

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(c); err != nil {
		return nil, err
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}
