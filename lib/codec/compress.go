// Copyright 2026 The Huddle Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"encoding/binary"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm applied to a payload. The values
// are wire constants of the relay stream protocol.
type Compression uint8

const (
	// CompressionNone leaves the payload as-is.
	CompressionNone Compression = 0

	// CompressionLZ4 is LZ4 block compression: fast, modest ratio.
	CompressionLZ4 Compression = 1

	// CompressionZstd is zstd at the default level. Chat and file-tree
	// payloads are JSON text, where zstd ratios are several times
	// better than LZ4.
	CompressionZstd Compression = 2
)

// String returns the configuration name of the algorithm.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses a configuration name. The empty string selects
// zstd.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd", "":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q (want none, lz4, or zstd)", name)
	}
}

// sizePrefixLength is the length of the uncompressed-size prefix on
// compressed payloads. LZ4 block decoding needs the exact size, and the
// prefix lets the decoder reject oversized payloads before allocating.
const sizePrefixLength = 4

// Compress compresses data with the requested algorithm. When the output
// would not be smaller than the input, the data is returned unchanged
// with CompressionNone. The returned tag is what the receiver must pass
// to Decompress.
func Compress(data []byte, requested Compression) ([]byte, Compression, error) {
	var compressed []byte
	switch requested {
	case CompressionNone:
		return data, CompressionNone, nil
	case CompressionLZ4:
		compressed = compressLZ4(data)
	case CompressionZstd:
		compressed = zstdEncoder.EncodeAll(data, nil)
	default:
		return nil, 0, fmt.Errorf("unsupported compression tag %d", requested)
	}
	if compressed == nil || len(compressed)+sizePrefixLength >= len(data) {
		return data, CompressionNone, nil
	}
	output := make([]byte, sizePrefixLength+len(compressed))
	binary.BigEndian.PutUint32(output, uint32(len(data)))
	copy(output[sizePrefixLength:], compressed)
	return output, requested, nil
}

// Decompress reverses Compress. Payloads that claim an uncompressed size
// above maxSize are rejected without decompressing.
func Decompress(data []byte, tag Compression, maxSize int) ([]byte, error) {
	if tag == CompressionNone {
		if len(data) > maxSize {
			return nil, fmt.Errorf("payload size %d exceeds maximum %d", len(data), maxSize)
		}
		return data, nil
	}
	if len(data) < sizePrefixLength {
		return nil, fmt.Errorf("%s payload too short: %d bytes", tag, len(data))
	}
	size := int(binary.BigEndian.Uint32(data))
	if size > maxSize {
		return nil, fmt.Errorf("%s payload uncompressed size %d exceeds maximum %d", tag, size, maxSize)
	}
	body := data[sizePrefixLength:]

	switch tag {
	case CompressionLZ4:
		destination := make([]byte, size)
		read, err := lz4.UncompressBlock(body, destination)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if read != size {
			return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
		}
		return destination, nil
	case CompressionZstd:
		destination, err := zstdDecoder.DecodeAll(body, make([]byte, 0, size))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(destination) != size {
			return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(destination), size)
		}
		return destination, nil
	default:
		return nil, fmt.Errorf("unsupported compression tag %d", tag)
	}
}

// compressLZ4 returns nil when LZ4 reports the input incompressible.
func compressLZ4(data []byte) []byte {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil || written == 0 {
		return nil
	}
	return destination[:written]
}

// zstd encoders and decoders are safe for concurrent use via EncodeAll
// and DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}
