// Package spool keeps telemetry that could not be published in an on-disk
// store-and-forward buffer and replays it once the link recovers.
package spool

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"dharaflow/internal/domain"
)

const (
	recordHeaderLen = 12
	defaultMaxBytes = 64 << 20
)

// ErrSpoolFull is returned when an append would grow the file past its
// bound; the caller decides whether losing the record matters.
var ErrSpoolFull = errors.New("spool full")

type entryID uint64

// envelope carries the routing fields the record's wire form deliberately
// omits.
type envelope struct {
	PatientID string                 `json:"pid"`
	SessionID string                 `json:"sid"`
	Record    domain.TelemetryRecord `json:"rec"`
}

// File is an append-only record log with a committed watermark. Entry
// format: [8 bytes id][4 bytes len][len bytes json]. A torn tail left by a
// crash is truncated on open; once every entry is committed the file is
// compacted to zero.
type File struct {
	mu        sync.Mutex
	path      string
	metaPath  string
	file      *os.File
	writer    *bufio.Writer
	nextID    entryID
	committed entryID
	sizeBytes int64
	maxBytes  int64
}

func Open(dir string, maxBytes int64) (*File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	if maxBytes <= 0 {
		maxBytes = defaultMaxBytes
	}
	path := filepath.Join(dir, "telemetry.spool")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	sp := &File{
		path:     path,
		metaPath: filepath.Join(dir, "telemetry.meta"),
		file:     f,
		writer:   bufio.NewWriterSize(f, 1<<16),
		maxBytes: maxBytes,
	}
	if err := sp.bootstrap(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return sp, nil
}

func (s *File) bootstrap() error {
	if err := s.scanExisting(); err != nil {
		return err
	}
	if err := s.loadCommitted(); err != nil {
		return err
	}
	if s.nextID < s.committed {
		s.nextID = s.committed
	}
	_, err := s.file.Seek(0, io.SeekEnd)
	return err
}

func (s *File) scanExisting() error {
	stat, err := os.Stat(s.path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	if err != nil || stat.Size() == 0 {
		return nil
	}

	rf, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer rf.Close()

	reader := bufio.NewReader(rf)
	var (
		offset int64
		lastID entryID
	)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(reader, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				if err := s.file.Truncate(offset); err != nil {
					return err
				}
				break
			}
			return fmt.Errorf("spool scan header: %w", err)
		}
		id := entryID(binary.BigEndian.Uint64(hdr[0:8]))
		length := binary.BigEndian.Uint32(hdr[8:12])
		if _, err := io.CopyN(io.Discard, reader, int64(length)); err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				if err := s.file.Truncate(offset); err != nil {
					return err
				}
				break
			}
			return fmt.Errorf("spool scan body: %w", err)
		}
		offset += recordHeaderLen + int64(length)
		lastID = id
	}

	s.sizeBytes = offset
	s.nextID = lastID
	return nil
}

func (s *File) loadCommitted() error {
	data, err := os.ReadFile(s.metaPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	val := strings.TrimSpace(string(data))
	if val == "" {
		return nil
	}
	u, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return fmt.Errorf("spool meta parse: %w", err)
	}
	s.committed = entryID(u)
	return nil
}

func (s *File) Append(rec domain.TelemetryRecord) (entryID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := json.Marshal(envelope{PatientID: rec.PatientID, SessionID: rec.SessionID, Record: rec})
	if err != nil {
		return 0, err
	}
	if s.sizeBytes+recordHeaderLen+int64(len(b)) > s.maxBytes {
		return 0, ErrSpoolFull
	}

	id := s.nextID + 1
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint64(hdr[0:8], uint64(id))
	binary.BigEndian.PutUint32(hdr[8:12], uint32(len(b)))

	if _, err := s.writer.Write(hdr[:]); err != nil {
		return 0, err
	}
	if _, err := s.writer.Write(b); err != nil {
		return 0, err
	}
	if err := s.writer.Flush(); err != nil {
		return 0, err
	}

	s.nextID = id
	s.sizeBytes += recordHeaderLen + int64(len(b))
	return id, nil
}

// Replay walks the uncommitted entries in order. Returning an error from fn
// stops the walk; the entry that failed stays uncommitted.
func (s *File) Replay(fn func(id entryID, rec domain.TelemetryRecord) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.committed >= s.nextID {
		return nil
	}
	if err := s.writer.Flush(); err != nil {
		return err
	}

	f, err := os.Open(s.path)
	if err != nil {
		return err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("spool replay header: %w", err)
		}
		id := entryID(binary.BigEndian.Uint64(hdr[0:8]))
		length := binary.BigEndian.Uint32(hdr[8:12])

		b := make([]byte, length)
		if _, err := io.ReadFull(r, b); err != nil {
			return fmt.Errorf("corrupt spool entry: %w", err)
		}
		if id <= s.committed {
			continue
		}

		var env envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return fmt.Errorf("corrupt spool entry: %w", err)
		}
		rec := env.Record
		rec.PatientID = env.PatientID
		rec.SessionID = env.SessionID
		if err := fn(id, rec); err != nil {
			return err
		}
	}
}

// CommitThrough marks entries up to id as delivered. When everything is
// committed the file is compacted back to zero bytes.
func (s *File) CommitThrough(id entryID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id > s.committed {
		s.committed = id
	}
	if s.committed >= s.nextID && s.sizeBytes > 0 {
		if err := s.writer.Flush(); err != nil {
			return err
		}
		if err := s.file.Truncate(0); err != nil {
			return err
		}
		if _, err := s.file.Seek(0, io.SeekEnd); err != nil {
			return err
		}
		s.sizeBytes = 0
		s.nextID = 0
		s.committed = 0
	}
	return s.persistMetaLocked()
}

type Stats struct {
	Pending   uint64
	SizeBytes int64
}

func (s *File) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Pending:   uint64(s.nextID - s.committed),
		SizeBytes: s.sizeBytes,
	}
}

func (s *File) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ferr := s.writer.Flush()
	return errors.Join(ferr, s.file.Close())
}

func (s *File) persistMetaLocked() error {
	return os.WriteFile(s.metaPath, []byte(fmt.Sprintf("%d\n", s.committed)), 0o644)
}
