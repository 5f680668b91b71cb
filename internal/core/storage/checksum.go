package storage

import (
	"fmt"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// Checksum returns the hex xxhash64 of payload as stored in payload_sum.
func Checksum(payload []byte) string {
	return strconv.FormatUint(xxhash.Sum64(payload), 16)
}

// verify checks payload against sum. An empty sum is accepted.
func verify(payload []byte, sum string) error {
	if sum == "" {
		return nil
	}
	if got := Checksum(payload); got != sum {
		return fmt.Errorf("%w: want %s, got %s", ErrChecksumMismatch, sum, got)
	}
	return nil
}
