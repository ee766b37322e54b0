package badgervec

import (
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/pondera-systems/pondera/core"
	"github.com/pondera-systems/pondera/storage"
)

// pointRecord is the on-disk representation of one indexed chunk.
type pointRecord struct {
	ChunkID  string            `msgpack:"c"`
	ItemID   string            `msgpack:"i"`
	SourceID string            `msgpack:"s"`
	DocType  string            `msgpack:"d,omitempty"`
	Text     string            `msgpack:"t"`
	Section  string            `msgpack:"e,omitempty"`
	Metadata map[string]string `msgpack:"m,omitempty"`
	Vector   []float32         `msgpack:"v"`
}

func marshalPoint(chunk *core.Chunk) ([]byte, error) {
	rec := pointRecord{
		ChunkID:  chunk.PointID(),
		ItemID:   chunk.ItemID,
		SourceID: chunk.SourceID,
		DocType:  chunk.DocType,
		Text:     chunk.Text,
		Section:  chunk.Section,
		Metadata: chunk.Metadata,
		Vector:   chunk.Vector,
	}
	data, err := msgpack.Marshal(&rec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrSerializationFailed, err)
	}
	return data, nil
}

func unmarshalPoint(data []byte) (*pointRecord, error) {
	var rec pointRecord
	if err := msgpack.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", storage.ErrSerializationFailed, err)
	}
	return &rec, nil
}
