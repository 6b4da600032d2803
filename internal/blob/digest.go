package blob

import (
	"crypto/md5" //nolint:gosec // legacy digest kept for object metadata parity with the source system
	"crypto/sha256"
	"encoding/hex"
)

// Digest holds both digest forms recorded for a stored object. SHA-256 is
// the dedup key; MD5 rides along in object metadata for parity with
// storage-side integrity checks.
type Digest struct {
	SHA256 string
	MD5    string
}

// ComputeDigest computes both digests over the given bytes.
func ComputeDigest(data []byte) Digest {
	sum := sha256.Sum256(data)
	legacy := md5.Sum(data) //nolint:gosec // not used for security decisions

	return Digest{
		SHA256: hex.EncodeToString(sum[:]),
		MD5:    hex.EncodeToString(legacy[:]),
	}
}
