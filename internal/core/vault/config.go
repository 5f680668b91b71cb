package vault

import "github.com/zeusync/vault/internal/core/spatial/rtree"

type Config struct {
	Mode Mode
	// MaxEntries is the R-tree node fan-out of every region.
	MaxEntries int
	// KeyPrecision is the number of decimals kept when deriving region keys.
	KeyPrecision int
	// PersistWorkers bounds how many regions PersistAll flushes at once.
	PersistWorkers int
}

func DefaultConfig() Config {
	return Config{
		Mode:           ModeSync,
		MaxEntries:     rtree.DefaultMaxEntries,
		KeyPrecision:   3,
		PersistWorkers: 4,
	}
}
