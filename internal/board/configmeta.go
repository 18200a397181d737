package board

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/soundmesh/soundmesh/internal/chunk"
)

// ConfigMeta hashes a processor's opaque parameter block into the
// ChunkMeta every published chunk carries under this processor's name.
func ConfigMeta(params map[string]any) chunk.ChunkMeta {
	j, err := json.Marshal(params)
	if err != nil {
		j = []byte("{}")
	}
	sum := sha256.Sum256(j)
	return chunk.ChunkMeta{
		ConfigHash: hex.EncodeToString(sum[:]),
		ConfigJSON: string(j),
	}
}
