package notebook

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint identifies the document's cell structure: the type and source
// of every cell in order. Outputs and metadata are ignored, so a notebook
// and its executed copy share a fingerprint, and two documents with the same
// fingerprint address the same cell by the same index.
func (d *Document) Fingerprint() string {
	// Build: type + "\x00" + source + "\x00" + type + ...
	parts := make([]string, 0, 2*len(d.Cells))
	for _, c := range d.Cells {
		parts = append(parts, string(c.CellType), string(c.Source))
	}
	return hashString(strings.Join(parts, "\x00"))
}

// hashString computes SHA-256 of s in sha256:hex form.
func hashString(s string) string {
	hash := sha256.Sum256([]byte(s))
	return "sha256:" + hex.EncodeToString(hash[:])
}
