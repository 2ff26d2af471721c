package pdfpage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
)

// claimDir holds one empty marker file per doc id handed out by Claim.
const claimDir = ".claims"

// DocIDs hands out document ids. It is safe for concurrent use; ids are
// strictly increasing and never repeat for the lifetime of the allocator.
// Allocators in different processes that share an image dir coordinate
// through Claim.
type DocIDs struct {
	next atomic.Int64
}

// NewDocIDs returns an allocator whose first id is start (values < 1 become 1).
func NewDocIDs(start int) *DocIDs {
	if start < 1 {
		start = 1
	}
	d := &DocIDs{}
	d.next.Store(int64(start))
	return d
}

// Next returns a fresh id.
func (d *DocIDs) Next() int {
	return int(d.next.Add(1) - 1)
}

// Peek returns the id the next call to Next will return.
func (d *DocIDs) Peek() int {
	return int(d.next.Load())
}

// Claim returns the next id not yet claimed by any allocator sharing dir.
// Each id is reserved by creating dir/.claims/<id> exclusively, so two
// processes can never both own the same id.
func (d *DocIDs) Claim(dir string) (int, error) {
	claims := filepath.Join(dir, claimDir)
	if err := os.MkdirAll(claims, 0o755); err != nil {
		return 0, fmt.Errorf("pdfpage: claim doc id: %w", err)
	}
	for {
		id := d.Next()
		f, err := os.OpenFile(filepath.Join(claims, strconv.Itoa(id)), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, fs.ErrExist) {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("pdfpage: claim doc id %d: %w", id, err)
		}
		f.Close()
		return id, nil
	}
}

// SeedFromDir advances the allocator past the highest doc id found among the
// page images and claim markers already stored in dir. A missing dir is not
// an error.
func (d *DocIDs) SeedFromDir(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("pdfpage: seed doc ids from %s: %w", dir, err)
	}
	highest := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if id, _, ok := ParseImageName(e.Name()); ok && id > highest {
			highest = id
		}
	}
	if claimed, err := os.ReadDir(filepath.Join(dir, claimDir)); err == nil {
		for _, e := range claimed {
			if id, err := strconv.Atoi(e.Name()); err == nil && id > highest {
				highest = id
			}
		}
	}
	for {
		cur := d.next.Load()
		if int64(highest) < cur {
			return nil
		}
		if d.next.CompareAndSwap(cur, int64(highest)+1) {
			return nil
		}
	}
}
