package provider

// ZeroCopyView is a live view into a block's bytes, backed either by a real
// memory mapping or (on fallback paths) by a private copy. Callers must call
// Release once done, before any write to the same provider that could
// invalidate the mapping.
type ZeroCopyView struct {
	data    []byte
	release func() error
}

// Bytes returns the viewed bytes. Valid only until Release is called.
func (v *ZeroCopyView) Bytes() []byte { return v.data }

// Release unmaps (or no-ops, for a copied fallback) the view.
func (v *ZeroCopyView) Release() error {
	if v.release == nil {
		return nil
	}
	return v.release()
}

// Metadata is the descriptive-only view of a block returned by GetMetadata.
type Metadata struct {
	Name           string
	Size           uint64
	Offset         uint64
	Checksum       [32]byte
	Dirty          bool
	LastModifiedAt int64
}

// Stats is the provider-wide snapshot returned by GetStatistics.
type Stats struct {
	BlockCount       int
	TotalPages       uint64
	FreePages        uint64
	UsedPages        uint64
	FragmentationPct float64
	WALRecordCount   uint64
	CurrentLSN       uint64
	LastCheckpoint   uint64
	CacheHits        uint64
	CacheMisses      uint64
	CacheEvictions   uint64
}
