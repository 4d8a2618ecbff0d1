// Package hash computes the content identity (hash, size) of a container.
// The hash identifies content for dedup; it is not a security primitive.
package hash

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"

	"github.com/spherical/comic-extractor/internal/domain"
)

const chunkSize = 256 << 10

// Reader hashes r in fixed-size chunks, checking ctx between chunks. Memory
// use is bounded by the chunk size regardless of input length.
func Reader(ctx context.Context, r io.Reader) (domain.FileHashData, error) {
	digest := xxhash.New()
	buf := make([]byte, chunkSize)
	var size int64

	for {
		if err := ctx.Err(); err != nil {
			return domain.FileHashData{}, err
		}
		n, err := r.Read(buf)
		if n > 0 {
			_, _ = digest.Write(buf[:n])
			size += int64(n)
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return domain.FileHashData{}, domain.ContainerReadError("cannot read container bytes", err)
		}
	}

	return domain.FileHashData{Hash: digest.Sum(nil), Size: size}, nil
}

// File hashes the file at path.
func File(ctx context.Context, path string) (domain.FileHashData, error) {
	f, err := os.Open(path)
	if err != nil {
		return domain.FileHashData{}, domain.ContainerReadError(fmt.Sprintf("cannot open %s", path), err)
	}
	defer f.Close()
	return Reader(ctx, f)
}

// Bytes hashes an in-memory buffer.
func Bytes(data []byte) domain.FileHashData {
	out := binary.BigEndian.AppendUint64(nil, xxhash.Sum64(data))
	return domain.FileHashData{Hash: out, Size: int64(len(data))}
}
