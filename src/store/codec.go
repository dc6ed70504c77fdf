package store

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"buildwatch-agent/src/provider"
)

var (
	payloadEncoder *zstd.Encoder
	payloadDecoder *zstd.Decoder
)

func init() {
	var err error
	payloadEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic(fmt.Sprintf("store: zstd encoder: %v", err))
	}
	payloadDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("store: zstd decoder: %v", err))
	}
}

// encodeFatBuild serializes a FatBuild as zstd-compressed JSON.
// The output is deterministic for equal inputs.
func encodeFatBuild(fb *provider.FatBuild) ([]byte, error) {
	data, err := json.Marshal(fb)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fat build %d: %w", fb.ID, err)
	}
	return payloadEncoder.EncodeAll(data, nil), nil
}

func decodeFatBuild(payload []byte) (*provider.FatBuild, error) {
	data, err := payloadDecoder.DecodeAll(payload, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress fat build: %w", err)
	}
	var fb provider.FatBuild
	if err := json.Unmarshal(data, &fb); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fat build: %w", err)
	}
	return &fb, nil
}
