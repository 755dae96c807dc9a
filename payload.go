package gigavector

import (
	"github.com/jaywyawhare/gigavector/pkg/payloadindex"
	"github.com/jaywyawhare/gigavector/pkg/storage"
	"github.com/jaywyawhare/gigavector/pkg/vindex"
)

func newPayloadIndex() *payloadindex.Index {
	return payloadindex.New()
}

// rebuildPayloadIndex populates ix from every live row's metadata in s,
// used after a snapshot reload since the payload index itself is never
// persisted.
func rebuildPayloadIndex(s *storage.Store, ix *payloadindex.Index) {
	for row := 0; row < s.Len(); row++ {
		ri := storage.RowIndex(row)
		deleted, err := s.IsDeleted(ri)
		if err != nil || deleted {
			continue
		}
		bag, err := s.Metadata(ri)
		if err != nil {
			continue
		}
		for key, val := range bag {
			ix.Insert(key, ri, val)
		}
	}
}

// rebuildDedupIndex populates an LSH probe from every live row, used
// when dedup is enabled on a database reloaded from a snapshot.
func rebuildDedupIndex(s *storage.Store, lsh *vindex.LSH) {
	for row := 0; row < s.Len(); row++ {
		ri := storage.RowIndex(row)
		deleted, err := s.IsDeleted(ri)
		if err != nil || deleted {
			continue
		}
		vec, err := s.Get(ri)
		if err != nil {
			continue
		}
		_ = lsh.Insert(ri, vec)
	}
}
