package snapshot

import (
	"fmt"
	"io"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"forks-project/models"
)

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

func newCompressor(w io.Writer, c models.CompressionType) (io.WriteCloser, error) {
	switch c {
	case models.CompressionNone:
		return nopWriteCloser{w}, nil
	case models.CompressionGzip:
		return gzip.NewWriterLevel(w, gzip.BestSpeed)
	case models.CompressionBzip2:
		return bzip2.NewWriter(w, nil)
	case models.CompressionZstd:
		return zstd.NewWriter(w)
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

func newDecompressor(r io.Reader, c models.CompressionType) (io.ReadCloser, error) {
	switch c {
	case models.CompressionNone:
		return io.NopCloser(r), nil
	case models.CompressionGzip:
		return gzip.NewReader(r)
	case models.CompressionBzip2:
		return bzip2.NewReader(r, nil)
	case models.CompressionZstd:
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	default:
		return nil, fmt.Errorf("unsupported compression %v", c)
	}
}

// compressionFromPath infers the codec from an archive file name.
func compressionFromPath(path string) (models.CompressionType, error) {
	for _, c := range []models.CompressionType{
		models.CompressionGzip,
		models.CompressionBzip2,
		models.CompressionZstd,
		models.CompressionNone,
	} {
		if strings.HasSuffix(path, "."+c.Extension()) {
			return c, nil
		}
	}
	return models.CompressionNone, fmt.Errorf("unknown archive extension: %s", path)
}
