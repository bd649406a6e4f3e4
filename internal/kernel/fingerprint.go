package kernel

import (
	"crypto/sha256"
	"encoding/hex"
)

// DomainLoadOrder separates load-order fingerprints from other hashes.
const DomainLoadOrder = "furnish/load-order/v1"

// Fingerprint hashes an ordered file list. Two lists share a fingerprint
// exactly when they name the same files in the same order.
//
// Format: SHA256(domain + 0x00 + name1 + 0x00 + name2 ...)
func Fingerprint(files []*File) string {
	h := sha256.New()
	h.Write([]byte(DomainLoadOrder))
	for _, f := range files {
		h.Write([]byte{0x00})
		h.Write([]byte(f.Name()))
	}
	return hex.EncodeToString(h.Sum(nil))
}
