// Package diskmgr maps (TableId, PageIndex) pairs to byte offsets within
// per-table files and performs the raw page reads/writes/allocations the
// buffer pool depends on. It keeps no page cache and no open file handles
// (each operation opens and closes the table file); the only state it
// carries is a per-table allocation lock.
package diskmgr

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/dustin/go-humanize"

	"github.com/latticedb/storecore/internal/page"
)

// Errors surfaced by the disk manager.
var (
	ErrShortRead      = errors.New("diskmgr: short read")
	ErrTableNotFound  = errors.New("diskmgr: table file not found")
)

// TableID identifies a table's file. The table-file name is "<TableID>.tbl".
type TableID int32

// PageID addresses one page within one table's file.
type PageID struct {
	TableID   TableID
	PageIndex int32
}

func (id PageID) String() string {
	return fmt.Sprintf("(%d,%d)", id.TableID, id.PageIndex)
}

// Manager reads, writes, and extends per-table files under a base data
// directory. It is safe for concurrent use: each table file carries its
// own mutex guarding the extend-then-write sequence in AllocateNewPage.
type Manager struct {
	baseDir string

	mu    sync.Mutex // guards the files map itself
	files map[TableID]*sync.Mutex
}

// NewManager creates (if necessary) baseDir and returns a Manager rooted
// there.
func NewManager(baseDir string) (*Manager, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("diskmgr: create data directory %q: %w", baseDir, err)
	}
	return &Manager{
		baseDir: baseDir,
		files:   make(map[TableID]*sync.Mutex),
	}, nil
}

func (m *Manager) tablePath(id TableID) string {
	return filepath.Join(m.baseDir, fmt.Sprintf("%d.tbl", id))
}

func (m *Manager) tableLock(id TableID) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.files[id]
	if !ok {
		l = &sync.Mutex{}
		m.files[id] = l
	}
	return l
}

// TableFileExists reports whether a file for id has already been created.
func (m *Manager) TableFileExists(id TableID) bool {
	_, err := os.Stat(m.tablePath(id))
	return err == nil
}

// CreateTableFile idempotently guarantees an empty file exists for id.
func (m *Manager) CreateTableFile(id TableID) error {
	lock := m.tableLock(id)
	lock.Lock()
	defer lock.Unlock()

	f, err := os.OpenFile(m.tablePath(id), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("diskmgr: create table file %d: %w", id, err)
	}
	return f.Close()
}

// ReadPage fills buf (which must be page.Size bytes) with the contents of
// the page at id.
func (m *Manager) ReadPage(id PageID, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("diskmgr: read buffer must be %d bytes, got %d", page.Size, len(buf))
	}
	f, err := os.Open(m.tablePath(id.TableID))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: table %d", ErrTableNotFound, id.TableID)
		}
		return fmt.Errorf("diskmgr: open table file %d: %w", id.TableID, err)
	}
	defer f.Close()

	offset := int64(id.PageIndex) * int64(page.Size)
	n, err := f.ReadAt(buf, offset)
	if n < page.Size {
		return fmt.Errorf("%w: table %d page %d: read %d of %d bytes: %v",
			ErrShortRead, id.TableID, id.PageIndex, n, page.Size, err)
	}
	return nil
}

// WritePage writes buf (which must be page.Size bytes) to the page at id.
// The table file must already exist.
func (m *Manager) WritePage(id PageID, buf []byte) error {
	if len(buf) != page.Size {
		return fmt.Errorf("diskmgr: write buffer must be %d bytes, got %d", page.Size, len(buf))
	}
	f, err := os.OpenFile(m.tablePath(id.TableID), os.O_RDWR, 0o644)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: table %d", ErrTableNotFound, id.TableID)
		}
		return fmt.Errorf("diskmgr: open table file %d: %w", id.TableID, err)
	}
	defer f.Close()

	offset := int64(id.PageIndex) * int64(page.Size)
	if _, err := f.WriteAt(buf, offset); err != nil {
		return fmt.Errorf("diskmgr: write table %d page %d: %w", id.TableID, id.PageIndex, err)
	}
	return nil
}

// AllocateNewPage extends table id's file by one page and returns the
// PageID of the new page, whose bytes past the old end of file are zero.
// If the file's current length is not a multiple of page.Size, a warning
// is logged and the new index is derived via integer division: the new
// page starts at the aligned boundary just below the partial tail, so the
// tail's bytes remain in place as the start of the new page.
func (m *Manager) AllocateNewPage(id TableID) (PageID, error) {
	lock := m.tableLock(id)
	lock.Lock()
	defer lock.Unlock()

	path := m.tablePath(id)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return PageID{}, fmt.Errorf("diskmgr: open table file %d: %w", id, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return PageID{}, fmt.Errorf("diskmgr: stat table file %d: %w", id, err)
	}
	length := info.Size()
	if length%int64(page.Size) != 0 {
		log.Printf("diskmgr: table %d file length %s is not a multiple of page size %d; truncating tail via integer division",
			id, humanize.Bytes(uint64(length)), page.Size)
	}
	newIndex := int32(length / int64(page.Size))
	newLength := int64(newIndex+1) * int64(page.Size)

	if err := f.Truncate(newLength); err != nil {
		return PageID{}, fmt.Errorf("diskmgr: extend table file %d to %s: %w", id, humanize.Bytes(uint64(newLength)), err)
	}
	return PageID{TableID: id, PageIndex: newIndex}, nil
}
