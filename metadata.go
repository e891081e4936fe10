package zarr3

import (
	"context"
	"encoding/json"
	"fmt"
)

const (
	zarrFormat = 3

	// arrayPrefix is the single array written under the group root.
	arrayPrefix = "0"

	keySeparator = "/"

	groupMetadataKey    = "zarr.json"
	externalMetadataKey = "acquire.json"
	arrayMetadataKey    = arrayPrefix + "/zarr.json"
)

// GroupMetadata is the zarr.json document at the storage root.
type GroupMetadata struct {
	ZarrFormat int            `json:"zarr_format"`
	NodeType   string         `json:"node_type"`
	Attributes map[string]any `json:"attributes"`
}

// ArrayMetadata is the per-array zarr.json document.
type ArrayMetadata struct {
	ZarrFormat       int               `json:"zarr_format"`
	NodeType         string            `json:"node_type"`
	Shape            []int             `json:"shape"`
	DataType         DataType          `json:"data_type"`
	ChunkGrid        ChunkGrid         `json:"chunk_grid"`
	ChunkKeyEncoding ChunkKeyEncoding  `json:"chunk_key_encoding"`
	FillValue        any               `json:"fill_value"`
	Codecs           []CodecSpec       `json:"codecs"`
	DimensionNames   []string          `json:"dimension_names"`
	Extensions       []json.RawMessage `json:"extensions"`
}

// ChunkGrid describes the grid of outer chunks. With the sharding codec the
// outer chunk is one shard: chunk_shape[i] = ChunkSize[i] * ShardSize[i].
type ChunkGrid struct {
	Name          string          `json:"name"`
	Configuration ChunkGridConfig `json:"configuration"`
}

type ChunkGridConfig struct {
	ChunkShape []int `json:"chunk_shape"`
}

// ChunkKeyEncoding maps chunk grid coordinates to storage keys.
type ChunkKeyEncoding struct {
	Name          string                 `json:"name"`
	Configuration ChunkKeyEncodingConfig `json:"configuration"`
}

type ChunkKeyEncodingConfig struct {
	Separator string `json:"separator"`
}

// CodecSpec is a named codec with its raw configuration document.
type CodecSpec struct {
	Name          string          `json:"name"`
	Configuration json.RawMessage `json:"configuration,omitempty"`
}

// shardingCodecConfig is the configuration of the sharding_indexed codec:
// the inner chunk shape, the codec chain applied to each inner chunk, and
// the codecs protecting the index itself.
type shardingCodecConfig struct {
	ChunkShape    []int       `json:"chunk_shape"`
	Codecs        []CodecSpec `json:"codecs"`
	IndexCodecs   []CodecSpec `json:"index_codecs"`
	IndexLocation string      `json:"index_location"`
}

func rawJSON(s string) json.RawMessage {
	return json.RawMessage(s)
}

var bytesLittleEndian = CodecSpec{Name: "bytes", Configuration: rawJSON(`{"endian":"little"}`)}

// buildArrayMetadata assembles the array document for a finished stream.
func buildArrayMetadata(desc ArrayDescriptor, shape []int, comp Compressor) (ArrayMetadata, error) {
	n := len(desc.Dimensions)
	outer := make([]int, n)
	inner := make([]int, n)
	names := make([]string, n)
	for i, d := range desc.Dimensions {
		outer[i] = d.ChunkSize * d.ShardSize
		inner[i] = d.ChunkSize
		names[i] = d.Name
	}

	innerCodecs := []CodecSpec{bytesLittleEndian}
	switch comp {
	case CompressorNone:
	case CompressorZstd:
		cfg := fmt.Sprintf(`{"level":%d,"checksum":false}`, zstdLevel)
		innerCodecs = append(innerCodecs, CodecSpec{Name: "zstd", Configuration: rawJSON(cfg)})
	case CompressorGzip:
		cfg := fmt.Sprintf(`{"level":%d}`, gzipLevel)
		innerCodecs = append(innerCodecs, CodecSpec{Name: "gzip", Configuration: rawJSON(cfg)})
	default:
		return ArrayMetadata{}, fmt.Errorf("unsupported compressor: %d", comp)
	}

	shardingCfg, err := json.Marshal(shardingCodecConfig{
		ChunkShape:    inner,
		Codecs:        innerCodecs,
		IndexCodecs:   []CodecSpec{bytesLittleEndian, {Name: "crc32c"}},
		IndexLocation: "end",
	})
	if err != nil {
		return ArrayMetadata{}, err
	}

	return ArrayMetadata{
		ZarrFormat: zarrFormat,
		NodeType:   "array",
		Shape:      shape,
		DataType:   desc.DataType,
		ChunkGrid: ChunkGrid{
			Name:          "regular",
			Configuration: ChunkGridConfig{ChunkShape: outer},
		},
		ChunkKeyEncoding: ChunkKeyEncoding{
			Name:          "default",
			Configuration: ChunkKeyEncodingConfig{Separator: keySeparator},
		},
		FillValue:      0,
		Codecs:         []CodecSpec{{Name: "sharding_indexed", Configuration: shardingCfg}},
		DimensionNames: names,
		Extensions:     []json.RawMessage{},
	}, nil
}

// writeMetadata emits, in order: the group document, the external metadata
// document, and the array document. Runs once, after all shards are final.
func (w *StreamWriter) writeMetadata(ctx context.Context) error {
	group, err := json.Marshal(GroupMetadata{
		ZarrFormat: zarrFormat,
		NodeType:   "group",
		Attributes: map[string]any{},
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMetadataWrite, err)
	}
	if err := w.bucket.WriteAll(ctx, groupMetadataKey, group, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMetadataWrite, groupMetadataKey, err)
	}

	external := w.opts.external
	if len(external) == 0 {
		external = rawJSON("{}")
	}
	if err := w.bucket.WriteAll(ctx, externalMetadataKey, external, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMetadataWrite, externalMetadataKey, err)
	}

	meta, err := buildArrayMetadata(w.desc, w.resolvedShape(), w.opts.compressor)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMetadataWrite, err)
	}
	doc, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMetadataWrite, err)
	}
	if err := w.bucket.WriteAll(ctx, arrayMetadataKey, doc, nil); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrMetadataWrite, arrayMetadataKey, err)
	}
	return nil
}
