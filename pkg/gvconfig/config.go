// Package gvconfig defines the configuration structs accepted by every
// GigaVector component. Loading these from a file, environment variables,
// or flags is the embedding application's job, not this package's.
package gvconfig

import "fmt"

// Config composes the per-component configuration blocks a Database is
// opened with.
type Config struct {
	HNSW      HNSWConfig
	IVFPQ     IVFPQConfig
	CDC       CDCConfig
	TTL       TTLConfig
	MVCC      MVCCConfig
	Optimizer OptimizerConfig
}

// HNSWConfig controls graph construction and search breadth for the HNSW
// index.
type HNSWConfig struct {
	// M is the graph degree: the number of bidirectional links created
	// per inserted node at each layer.
	M int
	// EfConstruction is the candidate-list size used while building the
	// graph; larger values produce a higher-recall graph at higher build
	// cost.
	EfConstruction int
	// EfSearch is the default candidate-list size used at query time when
	// the caller doesn't override it.
	EfSearch int
}

// IVFPQConfig controls the coarse quantizer and product-quantization
// codebooks for the IVFPQ index.
type IVFPQConfig struct {
	// Nlist is the number of coarse (Voronoi cell) centroids.
	Nlist int
	// M is the number of sub-quantizers; it must evenly divide the
	// vector dimension.
	M int
	// Nbits is the number of bits per sub-quantizer code (codebook size
	// is 2^Nbits centroids per subspace).
	Nbits int
	// Nprobe is the number of coarse cells visited per search.
	Nprobe int
	// TrainIters is the number of k-means iterations run during Train.
	TrainIters int
}

// CDCConfig controls the change-data-capture ring buffer and its optional
// persistent log.
type CDCConfig struct {
	// RingBufferSize is the number of events retained in memory for pull
	// cursors to catch up from.
	RingBufferSize int
	// PersistToFile enables appending every published event to a
	// durable log in addition to the in-memory ring.
	PersistToFile bool
	// LogPath is the path of the persistent CDC log, used only when
	// PersistToFile is true.
	LogPath string
	// MaxLogSizeMB bounds the persistent log: once it has grown past this
	// size, further events are no longer appended to it. The log is not
	// rotated. Zero or less means no bound.
	MaxLogSizeMB int
	// IncludeVectorData controls whether published events carry the
	// full vector payload or only metadata and row identity.
	IncludeVectorData bool
}

// TTLConfig controls per-row time-to-live expiry.
type TTLConfig struct {
	// DefaultTTLSeconds is applied to rows inserted without an explicit
	// TTL override; zero means rows never expire by default.
	DefaultTTLSeconds int64
	// CleanupIntervalSeconds is the period of the background sweep.
	CleanupIntervalSeconds int64
	// LazyExpiration makes reads check and reject an expired row even
	// between sweeps.
	LazyExpiration bool
	// MaxExpiredPerCleanup bounds how many rows a single sweep cycle
	// reclaims, to keep sweep latency predictable on large stores.
	MaxExpiredPerCleanup int
}

// MVCCConfig controls snapshot-isolation transaction bookkeeping.
type MVCCConfig struct {
	// GCInterval is the period of the background old-version collector.
	GCInterval int64
	// GCAgeThresholdSeconds is not read by mvcc.Manager.GC; reclamation
	// does not depend on a tuple version's age.
	GCAgeThresholdSeconds int64
	// MaxActiveTxns bounds the number of concurrently open transactions.
	MaxActiveTxns int
}

// OptimizerConfig controls the heuristic query planner.
type OptimizerConfig struct {
	// Enabled toggles heuristic planning; when false, searches always
	// run with the configured index's static defaults.
	Enabled bool
	// DecisionCacheSize bounds the number of cached ef/nprobe/strategy
	// decisions kept for repeated query shapes.
	DecisionCacheSize int
}

// DefaultConfig returns the configuration GigaVector uses when the caller
// doesn't override a block.
func DefaultConfig() *Config {
	return &Config{
		HNSW: HNSWConfig{
			M:              16,
			EfConstruction: 200,
			EfSearch:       50,
		},
		IVFPQ: IVFPQConfig{
			Nlist:      100,
			M:          8,
			Nbits:      8,
			Nprobe:     8,
			TrainIters: 25,
		},
		CDC: CDCConfig{
			RingBufferSize:    65536,
			PersistToFile:     false,
			MaxLogSizeMB:      256,
			IncludeVectorData: false,
		},
		TTL: TTLConfig{
			DefaultTTLSeconds:      0,
			CleanupIntervalSeconds: 60,
			LazyExpiration:         true,
			MaxExpiredPerCleanup:   1000,
		},
		MVCC: MVCCConfig{
			GCInterval:            300,
			GCAgeThresholdSeconds: 3600,
			MaxActiveTxns:         10000,
		},
		Optimizer: OptimizerConfig{
			Enabled:           true,
			DecisionCacheSize: 1000,
		},
	}
}

// Validate checks the configuration for internally inconsistent values
// and returns a descriptive error for the first one found.
func (c *Config) Validate() error {
	if c.HNSW.M < 2 {
		return fmt.Errorf("gvconfig: HNSW.M must be >= 2, got %d", c.HNSW.M)
	}
	if c.HNSW.EfConstruction < c.HNSW.M {
		return fmt.Errorf("gvconfig: HNSW.EfConstruction must be >= M, got %d < %d", c.HNSW.EfConstruction, c.HNSW.M)
	}
	if c.HNSW.EfSearch < 1 {
		return fmt.Errorf("gvconfig: HNSW.EfSearch must be >= 1, got %d", c.HNSW.EfSearch)
	}

	if c.IVFPQ.Nlist < 1 {
		return fmt.Errorf("gvconfig: IVFPQ.Nlist must be >= 1, got %d", c.IVFPQ.Nlist)
	}
	if c.IVFPQ.M < 1 {
		return fmt.Errorf("gvconfig: IVFPQ.M must be >= 1, got %d", c.IVFPQ.M)
	}
	if c.IVFPQ.Nbits < 1 || c.IVFPQ.Nbits > 16 {
		return fmt.Errorf("gvconfig: IVFPQ.Nbits must be in [1,16], got %d", c.IVFPQ.Nbits)
	}
	if c.IVFPQ.Nprobe < 1 {
		return fmt.Errorf("gvconfig: IVFPQ.Nprobe must be >= 1, got %d", c.IVFPQ.Nprobe)
	}
	if c.IVFPQ.Nprobe > c.IVFPQ.Nlist {
		return fmt.Errorf("gvconfig: IVFPQ.Nprobe must be <= Nlist, got %d > %d", c.IVFPQ.Nprobe, c.IVFPQ.Nlist)
	}
	if c.IVFPQ.TrainIters < 1 {
		return fmt.Errorf("gvconfig: IVFPQ.TrainIters must be >= 1, got %d", c.IVFPQ.TrainIters)
	}

	if c.CDC.RingBufferSize < 1 {
		return fmt.Errorf("gvconfig: CDC.RingBufferSize must be >= 1, got %d", c.CDC.RingBufferSize)
	}
	if c.CDC.PersistToFile && c.CDC.LogPath == "" {
		return fmt.Errorf("gvconfig: CDC.LogPath is required when PersistToFile is true")
	}
	if c.CDC.MaxLogSizeMB < 1 {
		return fmt.Errorf("gvconfig: CDC.MaxLogSizeMB must be >= 1, got %d", c.CDC.MaxLogSizeMB)
	}

	if c.TTL.DefaultTTLSeconds < 0 {
		return fmt.Errorf("gvconfig: TTL.DefaultTTLSeconds must be >= 0, got %d", c.TTL.DefaultTTLSeconds)
	}
	if c.TTL.CleanupIntervalSeconds < 1 {
		return fmt.Errorf("gvconfig: TTL.CleanupIntervalSeconds must be >= 1, got %d", c.TTL.CleanupIntervalSeconds)
	}
	if c.TTL.MaxExpiredPerCleanup < 1 {
		return fmt.Errorf("gvconfig: TTL.MaxExpiredPerCleanup must be >= 1, got %d", c.TTL.MaxExpiredPerCleanup)
	}

	if c.MVCC.GCInterval < 1 {
		return fmt.Errorf("gvconfig: MVCC.GCInterval must be >= 1, got %d", c.MVCC.GCInterval)
	}
	if c.MVCC.GCAgeThresholdSeconds < 0 {
		return fmt.Errorf("gvconfig: MVCC.GCAgeThresholdSeconds must be >= 0, got %d", c.MVCC.GCAgeThresholdSeconds)
	}
	if c.MVCC.MaxActiveTxns < 1 {
		return fmt.Errorf("gvconfig: MVCC.MaxActiveTxns must be >= 1, got %d", c.MVCC.MaxActiveTxns)
	}

	if c.Optimizer.DecisionCacheSize < 0 {
		return fmt.Errorf("gvconfig: Optimizer.DecisionCacheSize must be >= 0, got %d", c.Optimizer.DecisionCacheSize)
	}

	return nil
}
