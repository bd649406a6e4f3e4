package fetch

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"hash/adler32"
	"strings"

	"github.com/roach88/furnish/internal/kernel"
)

// digest hashes a download while it is written.
type digest struct {
	size  int64
	sha   hash.Hash
	adler hash.Hash32
}

func newDigest() *digest {
	return &digest{sha: sha256.New(), adler: adler32.New()}
}

func (d *digest) Write(p []byte) (int, error) {
	d.size += int64(len(p))
	d.sha.Write(p)
	d.adler.Write(p)
	return len(p), nil
}

// SHA256 returns the hex digest of everything written.
func (d *digest) SHA256() string { return hex.EncodeToString(d.sha.Sum(nil)) }

// Adler32 returns the 8-digit hex checksum of everything written.
func (d *digest) Adler32() string { return fmt.Sprintf("%08x", d.adler.Sum32()) }

// verify compares against the non-zero fields of want.
func (d *digest) verify(want kernel.Integrity) error {
	if want.Size > 0 && d.size != want.Size {
		return fmt.Errorf("%w: size %d, want %d", ErrIntegrity, d.size, want.Size)
	}
	if want.SHA256 != "" && !strings.EqualFold(d.SHA256(), want.SHA256) {
		return fmt.Errorf("%w: sha256 %s, want %s", ErrIntegrity, d.SHA256(), want.SHA256)
	}
	if want.Adler32 != "" && !strings.EqualFold(d.Adler32(), want.Adler32) {
		return fmt.Errorf("%w: adler32 %s, want %s", ErrIntegrity, d.Adler32(), want.Adler32)
	}
	return nil
}
