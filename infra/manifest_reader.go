package infra

import (
	"context"
	"io"
	"sort"

	"github.com/ducnh/coursereel/entity"
)

// chunkFetcher opens one storage chunk for reading
type chunkFetcher func(ctx context.Context, path string) (io.ReadCloser, error)

// manifestReader presents an ordered set of storage chunks as one continuous
// byte stream. Chunks are opened lazily, one at a time, in manifest order, so
// reading a multi-gigabyte logical object holds at most one chunk open.
type manifestReader struct {
	ctx     context.Context
	refs    []entity.ChunkRef
	fetch   chunkFetcher
	index   int
	current io.ReadCloser
	closed  bool
}

func newManifestReader(ctx context.Context, refs []entity.ChunkRef, fetch chunkFetcher) *manifestReader {
	ordered := make([]entity.ChunkRef, len(refs))
	copy(ordered, refs)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Order < ordered[j].Order })

	return &manifestReader{
		ctx:   ctx,
		refs:  ordered,
		fetch: fetch,
	}
}

func (r *manifestReader) Read(p []byte) (int, error) {
	if r.closed {
		return 0, io.ErrClosedPipe
	}

	for {
		if err := r.ctx.Err(); err != nil {
			return 0, err
		}

		if r.current == nil {
			if r.index >= len(r.refs) {
				return 0, io.EOF
			}
			chunk, err := r.fetch(r.ctx, r.refs[r.index].Path)
			if err != nil {
				return 0, err
			}
			r.current = chunk
		}

		n, err := r.current.Read(p)
		if err == io.EOF {
			_ = r.current.Close()
			r.current = nil
			r.index++
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (r *manifestReader) Close() error {
	r.closed = true
	if r.current != nil {
		err := r.current.Close()
		r.current = nil
		return err
	}
	return nil
}
