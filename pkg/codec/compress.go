package codec

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how a body is compressed before segmentation.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

// MaxDecompressedSize caps the size a compressed body may expand to.
const MaxDecompressedSize = 64 << 20

// ErrCorruptBody is returned when a compressed body cannot be expanded.
var ErrCorruptBody = errors.New("corrupt compressed body")

// String returns string representation of Compression
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

// ParseCompression converts a name to a Compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

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
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress compresses body. LZ4 output is prefixed with the uncompressed
// length as an unsigned varint so the block can be expanded without
// out-of-band size information.
func Compress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		out := binary.AppendUvarint(nil, uint64(len(body)))
		if len(body) == 0 {
			return out, nil
		}
		dst := make([]byte, lz4.CompressBlockBound(len(body)))
		n, err := lz4.CompressBlock(body, dst, nil)
		if err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return append(out, dst[:n]...), nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(body, nil), nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}

// Decompress reverses Compress.
func Decompress(body []byte, c Compression) ([]byte, error) {
	switch c {
	case CompressionNone:
		return body, nil
	case CompressionLZ4:
		size, n := binary.Uvarint(body)
		if n <= 0 || size > MaxDecompressedSize {
			return nil, fmt.Errorf("%w: bad lz4 length prefix", ErrCorruptBody)
		}
		out := make([]byte, size)
		if size == 0 {
			return out, nil
		}
		read, err := lz4.UncompressBlock(body[n:], out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %w", ErrCorruptBody, err)
		}
		if uint64(read) != size {
			return nil, fmt.Errorf("%w: lz4 got %d bytes, expected %d", ErrCorruptBody, read, size)
		}
		return out, nil
	case CompressionZstd:
		out, err := zstdDecoder.DecodeAll(body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %w", ErrCorruptBody, err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}
