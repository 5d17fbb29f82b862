package esign

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"
)

// ComputeChecksum produces the tamper-evident signing digest binding
// recipient, document, the authoritative content snapshot, signing time
// and signer IP. A dispute can refetch the stored document bytes and
// recompute this value against the recipient's recorded checksum.
//
// The envelope is newline-delimited with a fixed version prefix so the
// scheme can evolve without ambiguity over historical checksums.
func ComputeChecksum(recipientID, documentID string, content []byte, signedAt time.Time, ip string) string {
	h := sha256.New()
	h.Write([]byte("esign-checksum/v1\n"))
	h.Write([]byte(recipientID))
	h.Write([]byte{'\n'})
	h.Write([]byte(documentID))
	h.Write([]byte{'\n'})
	h.Write([]byte(strconv.FormatInt(signedAt.UTC().UnixNano(), 10)))
	h.Write([]byte{'\n'})
	h.Write([]byte(ip))
	h.Write([]byte{'\n'})
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}
