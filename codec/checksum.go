package codec

import (
	"fmt"

	"github.com/Boavizta/e-footprint-sub000/cas"
)

// Checksum returns the BLAKE3 digest of the canonical JSON of the entity
// section. The manifest is not covered.
func Checksum(doc *Document) (string, error) {
	data, err := cas.CanonicalJSON(doc.Entities)
	if err != nil {
		return "", fmt.Errorf("canonicalizing entities: %w", err)
	}
	return cas.Blake3HashHex(data), nil
}

// Verify checks the manifest checksum. Documents without one pass.
func Verify(doc *Document) error {
	if doc.Manifest.Checksum == "" {
		return nil
	}
	sum, err := Checksum(doc)
	if err != nil {
		return err
	}
	if sum != doc.Manifest.Checksum {
		return fmt.Errorf("manifest says %s, entities hash to %s: %w", short(doc.Manifest.Checksum), short(sum), ErrChecksum)
	}
	return nil
}

func short(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

// ExplainRecord renders the derivation stored with a record. Records
// written without provenance explain as "label = value".
func ExplainRecord(rec *Record) (string, error) {
	if rec.Formula != nil {
		return rec.Formula.Explain(), nil
	}
	v, err := DecodeValue(rec.Value)
	if err != nil {
		return "", err
	}
	return rec.Label + " = " + v.String(), nil
}
