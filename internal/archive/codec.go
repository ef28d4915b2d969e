// Package archive packs classified MISO directory records into a single tar
// stream and restores such a stream into a new directory tree.
package archive

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz"
)

// Codec is the compression applied around the tar stream.
type Codec string

const (
	CodecNone Codec = "none"
	CodecGzip Codec = "gzip"
	CodecZstd Codec = "zstd"
	CodecXZ   Codec = "xz"
	CodecLZ4  Codec = "lz4"
)

// Codecs lists the supported codecs in display order.
var Codecs = []Codec{CodecZstd, CodecXZ, CodecLZ4, CodecGzip, CodecNone}

var (
	magicZstd = []byte{0x28, 0xb5, 0x2f, 0xfd}
	magicXZ   = []byte{0xfd, 0x37, 0x7a, 0x58, 0x5a, 0x00}
	magicLZ4  = []byte{0x04, 0x22, 0x4d, 0x18}
	magicGzip = []byte{0x1f, 0x8b}
)

// ParseCodec validates a codec name. The empty string selects zstd.
func ParseCodec(s string) (Codec, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return CodecZstd, nil
	}
	for _, c := range Codecs {
		if string(c) == s {
			return c, nil
		}
	}
	return "", fmt.Errorf("unsupported compression %q (supported: zstd, xz, lz4, gzip, none)", s)
}

func (c Codec) validate() error {
	for _, known := range Codecs {
		if c == known {
			return nil
		}
	}
	return fmt.Errorf("unsupported compression %q", string(c))
}

// Extension is the conventional file suffix for archives using c.
func (c Codec) Extension() string {
	switch c {
	case CodecGzip:
		return ".tar.gz"
	case CodecZstd:
		return ".tar.zst"
	case CodecXZ:
		return ".tar.xz"
	case CodecLZ4:
		return ".tar.lz4"
	default:
		return ".tar"
	}
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

// newWriter wraps w with the codec's compressor. Close flushes the
// compressor but does not close w.
func (c Codec) newWriter(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecNone:
		return nopWriteCloser{w}, nil
	case CodecGzip:
		return gzip.NewWriter(w), nil
	case CodecZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating zstd writer: %w", err)
		}
		return enc, nil
	case CodecXZ:
		xw, err := xz.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("creating xz writer: %w", err)
		}
		return xw, nil
	case CodecLZ4:
		return lz4.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", string(c))
	}
}

// detectCodec identifies the codec of a stream by its magic number without
// consuming any input.
func detectCodec(br *bufio.Reader) Codec {
	head, _ := br.Peek(len(magicXZ))
	switch {
	case bytes.HasPrefix(head, magicZstd):
		return CodecZstd
	case bytes.HasPrefix(head, magicXZ):
		return CodecXZ
	case bytes.HasPrefix(head, magicLZ4):
		return CodecLZ4
	case bytes.HasPrefix(head, magicGzip):
		return CodecGzip
	default:
		return CodecNone
	}
}

type zstdReadCloser struct{ *zstd.Decoder }

func (z zstdReadCloser) Close() error {
	z.Decoder.Close()
	return nil
}

// newReader wraps r with the codec's decompressor.
func (c Codec) newReader(r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CodecNone:
		return io.NopCloser(r), nil
	case CodecGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating gzip reader: %w", err)
		}
		return gr, nil
	case CodecZstd:
		dec, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating zstd reader: %w", err)
		}
		return zstdReadCloser{dec}, nil
	case CodecXZ:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("creating xz reader: %w", err)
		}
		return io.NopCloser(xr), nil
	case CodecLZ4:
		return io.NopCloser(lz4.NewReader(r)), nil
	default:
		return nil, fmt.Errorf("unsupported compression %q", string(c))
	}
}
