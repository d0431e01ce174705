package capture

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"
)

const (
	segmentPattern = "%09d.seg"
	manifestName   = "manifest.json"

	defaultSegmentBytes = 8 << 20 // 8 MB
	minSegmentBytes     = 4 << 10 // 4 KB

	spoolWriterBuf = 64 << 10
)

// SpoolConfig holds configuration for an on-disk capture spool.
type SpoolConfig struct {
	Dir             string // Directory for segment files. Required.
	MaxSegmentBytes int64  // Bytes before segment rotation. Default: 8 MB.
}

// SegmentInfo describes one spool segment on disk.
type SegmentInfo struct {
	Name  string `json:"name"`
	Bytes int64  `json:"bytes"`
}

// manifest records the spool layout. Rewritten atomically on rotation and
// close so readers always see a consistent picture.
type manifest struct {
	CreatedAt  time.Time     `json:"created_at"`
	UpdatedAt  time.Time     `json:"updated_at"`
	Segments   []SegmentInfo `json:"segments"`
	TotalBytes int64         `json:"total_bytes"`
}

// Spool appends raw capture bytes to rotating segment files in a
// directory. Bytes are preserved exactly as read from the source; the
// decoder's resync logic handles whatever a truncated tail leaves behind.
type Spool struct {
	dir      string
	maxBytes int64
	logger   *slog.Logger

	created time.Time

	// Guarded by the pump's single writer goroutine; Spool itself is not
	// safe for concurrent use.
	current *os.File
	w       *bufio.Writer
	size    int64
	index   uint64
	closed  []SegmentInfo
	total   int64
}

// NewSpool opens a spool in cfg.Dir, resuming after any existing segments.
func NewSpool(logger *slog.Logger, cfg SpoolConfig) (*Spool, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("spool: directory is required")
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = defaultSegmentBytes
	}
	if cfg.MaxSegmentBytes < minSegmentBytes {
		return nil, fmt.Errorf("spool: segment size %d too small (min %d)", cfg.MaxSegmentBytes, minSegmentBytes)
	}

	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("spool: create directory: %w", err)
	}

	// Verify directory is writable.
	probe := filepath.Join(cfg.Dir, ".spool_probe")
	f, err := os.Create(probe)
	if err != nil {
		return nil, fmt.Errorf("spool: directory not writable: %w", err)
	}
	_ = f.Close()
	_ = os.Remove(probe)

	s := &Spool{
		dir:      cfg.Dir,
		maxBytes: cfg.MaxSegmentBytes,
		logger:   logger,
		created:  time.Now().UTC(),
	}
	if err := s.scanExisting(); err != nil {
		return nil, err
	}
	if err := s.openSegment(); err != nil {
		return nil, err
	}
	return s, nil
}

// Write appends p to the current segment, rotating first when the segment
// would grow past the limit. A chunk larger than the limit still lands
// whole in its own segment.
func (s *Spool) Write(p []byte) (int, error) {
	if s.current == nil {
		return 0, fmt.Errorf("spool: closed")
	}
	if s.size > 0 && s.size+int64(len(p)) > s.maxBytes {
		if err := s.rotate(); err != nil {
			return 0, err
		}
	}
	n, err := s.w.Write(p)
	s.size += int64(n)
	s.total += int64(n)
	if err != nil {
		return n, fmt.Errorf("spool: write segment: %w", err)
	}
	return n, nil
}

// Flush pushes buffered bytes to the operating system. Durability against
// power loss additionally needs the per-rotation Sync, which this does
// not force.
func (s *Spool) Flush() error {
	if s.current == nil {
		return nil
	}
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("spool: flush segment: %w", err)
	}
	return nil
}

// Close flushes, syncs, and closes the current segment and rewrites the
// manifest one last time.
func (s *Spool) Close() error {
	if s.current == nil {
		return nil
	}
	err := s.closeSegment()
	if mErr := s.saveManifest(); mErr != nil && err == nil {
		err = mErr
	}
	return err
}

// Segments returns all segments including the open one.
func (s *Spool) Segments() []SegmentInfo {
	out := append([]SegmentInfo(nil), s.closed...)
	if s.current != nil {
		out = append(out, SegmentInfo{Name: s.segmentName(s.index), Bytes: s.size})
	}
	return out
}

// TotalBytes returns the bytes written across all segments this run.
func (s *Spool) TotalBytes() int64 { return s.total }

// Dir returns the spool directory.
func (s *Spool) Dir() string { return s.dir }

func (s *Spool) segmentName(num uint64) string {
	return fmt.Sprintf(segmentPattern, num)
}

func (s *Spool) segmentPath(num uint64) string {
	return filepath.Join(s.dir, s.segmentName(num))
}

func (s *Spool) manifestPath() string {
	return filepath.Join(s.dir, manifestName)
}

// scanExisting inventories segments from a previous run and picks the
// next free index, so a restarted capture never overwrites history.
func (s *Spool) scanExisting() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("spool: read directory: %w", err)
	}
	var highest uint64
	for _, e := range entries {
		var num uint64
		if _, err := fmt.Sscanf(e.Name(), segmentPattern, &num); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		s.closed = append(s.closed, SegmentInfo{Name: e.Name(), Bytes: info.Size()})
		if num >= highest {
			highest = num + 1
		}
	}
	sort.Slice(s.closed, func(i, j int) bool { return s.closed[i].Name < s.closed[j].Name })
	s.index = highest
	if len(s.closed) > 0 {
		s.logger.Info("spool: resuming after existing segments",
			"segments", len(s.closed),
			"next_index", s.index)
	}
	return nil
}

func (s *Spool) openSegment() error {
	f, err := os.Create(s.segmentPath(s.index))
	if err != nil {
		return fmt.Errorf("spool: create segment: %w", err)
	}
	s.current = f
	s.w = bufio.NewWriterSize(f, spoolWriterBuf)
	s.size = 0
	return nil
}

func (s *Spool) closeSegment() error {
	f := s.current
	s.closed = append(s.closed, SegmentInfo{Name: s.segmentName(s.index), Bytes: s.size})
	s.current = nil
	if err := s.w.Flush(); err != nil {
		return fmt.Errorf("spool: flush segment: %w", err)
	}
	s.w = nil
	if err := f.Sync(); err != nil {
		return fmt.Errorf("spool: sync segment: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("spool: close segment: %w", err)
	}
	return nil
}

func (s *Spool) rotate() error {
	if err := s.closeSegment(); err != nil {
		return err
	}
	if err := s.saveManifest(); err != nil {
		return err
	}
	s.index++
	s.logger.Debug("spool: rotated segment", "index", s.index)
	return s.openSegment()
}

// saveManifest writes the manifest via a temp file, fsync, and rename so
// a crash never leaves a torn manifest.
func (s *Spool) saveManifest() error {
	m := manifest{
		CreatedAt: s.created,
		UpdatedAt: time.Now().UTC(),
		Segments:  s.Segments(),
	}
	for _, seg := range m.Segments {
		m.TotalBytes += seg.Bytes
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("spool: marshal manifest: %w", err)
	}

	tmp := s.manifestPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("spool: write manifest tmp: %w", err)
	}
	f, err := os.Open(tmp)
	if err != nil {
		return fmt.Errorf("spool: open manifest tmp for sync: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("spool: sync manifest tmp: %w", err)
	}
	_ = f.Close()
	if err := os.Rename(tmp, s.manifestPath()); err != nil {
		return fmt.Errorf("spool: rename manifest: %w", err)
	}
	return nil
}
