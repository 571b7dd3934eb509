// Package tempfiles spools upload streams to disk so backends that need a
// seekable body (S3 requires a known content length) can re-read them.
package tempfiles

import (
	"crypto/sha256"
	"fmt"
	"io"
	"os"
)

// Spooled is an upload stream buffered to a temp file.
type Spooled struct {
	File   *os.File
	Size   int64
	SHA256 string
}

// Spool copies r into a new temp file under dir, creating dir if needed, and
// returns the open file rewound to the start along with its size and SHA256.
// When limit > 0 and the stream exceeds it, Spool cleans up and returns an
// error without reading further.
func Spool(dir, pattern string, r io.Reader, limit int64) (*Spooled, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create spool dir %q: %w", dir, err)
	}
	f, err := os.CreateTemp(dir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create spool file: %w", err)
	}

	src := r
	if limit > 0 {
		src = io.LimitReader(r, limit+1)
	}
	hasher := sha256.New()
	n, err := io.Copy(f, io.TeeReader(src, hasher))
	if err != nil {
		cleanup(f)
		return nil, fmt.Errorf("spool upload stream: %w", err)
	}
	if limit > 0 && n > limit {
		cleanup(f)
		return nil, fmt.Errorf("upload exceeds maximum size of %d bytes", limit)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		cleanup(f)
		return nil, fmt.Errorf("rewind spool file: %w", err)
	}
	return &Spooled{
		File:   f,
		Size:   n,
		SHA256: fmt.Sprintf("%x", hasher.Sum(nil)),
	}, nil
}

// Close closes and removes the spool file.
func (s *Spooled) Close() error {
	err := s.File.Close()
	if rmErr := os.Remove(s.File.Name()); rmErr != nil && !os.IsNotExist(rmErr) && err == nil {
		err = rmErr
	}
	return err
}

func cleanup(f *os.File) {
	_ = f.Close()
	_ = os.Remove(f.Name())
}
