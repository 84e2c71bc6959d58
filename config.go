package pagekv

import "go.uber.org/zap"

// EnvFlags are the bit flags accepted by OpenEnvironment.
type EnvFlags uint32

const (
	InMemoryDB EnvFlags = 1 << iota
	UseMmap
	WriteThrough
	EnableTransactions
	UseHash // rejected by CreateDatabase: no hash-index backend is implemented
)

// Config configures an Environment: the backing file (or none, for an
// in-memory environment), page size, cache budget, device flags, and the
// comparators and logger new databases inherit by default.
type Config struct {
	Path string

	PageSize     uint32
	CacheSize    int // max resident pages; 0 defaults to 64 pages (262144 bytes at the default 4096-byte page size)
	FreelistSize int // reserved for a future separate freelist cache budget; currently shares CacheSize

	Flags EnvFlags

	Cipher Cipher

	Comparator       Comparator
	PrefixComparator PrefixComparator

	Logger *zap.Logger
}

func (c Config) inMemory() bool    { return c.Flags&InMemoryDB != 0 }
func (c Config) useMmap() bool     { return c.Flags&UseMmap != 0 }
func (c Config) writeThrough() bool { return c.Flags&WriteThrough != 0 }
func (c Config) txnEnabled() bool  { return c.Flags&EnableTransactions != 0 }

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = 4096
	}
	if c.CacheSize == 0 {
		c.CacheSize = 64 // 262144 bytes at the default 4096-byte page size
	}
	if c.Comparator == nil {
		c.Comparator = defaultComparator{}
	}
	if c.PrefixComparator == nil {
		c.PrefixComparator = defaultPrefixComparator{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	return c
}

// DatabaseConfig configures one named Database within an Environment: the
// key size budget before a key is stored as an extended key, the inline
// record budget before a record is blob-backed, and whether duplicate keys
// are permitted.
type DatabaseConfig struct {
	KeySize           int
	RecordInlineSize  int
	EnableDuplicates  bool
}

func (c DatabaseConfig) withDefaults() DatabaseConfig {
	if c.KeySize == 0 {
		c.KeySize = 32
	}
	if c.RecordInlineSize == 0 {
		c.RecordInlineSize = 256
	}
	return c
}
