// Package wal provides write-ahead logging for durability and crash
// recovery.
//
// Each committed transaction is appended as one self-contained frame:
// length prefix, crc32 checksum, then the (optionally zstd-compressed)
// encoded entry. A frame is the atomicity unit; recovery replays complete
// frames in order and stops at the first short or corrupt frame, so a
// transaction is never half-applied.
package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/gravel-db/gravel/codec"
)

const fileName = "gravel.wal"

var headerMagic = [8]byte{'G', 'R', 'V', 'L', 'W', 'A', 'L', '1'}

// header layout: magic(8) | flags(1) | codecNameLen(1) | codecName(n)
const flagCompressed = 1

// Log is the write-ahead log. Safe for concurrent use.
type Log struct {
	mu sync.Mutex

	file     *os.File
	filePath string
	opts     Options
	codec    codec.Codec

	enc *zstd.Encoder // nil when uncompressed
	dec *zstd.Decoder

	lastCommit   uint64
	appendedOps  int
	checkpointFn func() error
}

// Open opens or creates the log in the configured directory and scans any
// existing entries to recover the last committed version.
func Open(optFns ...func(o *Options)) (*Log, error) {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.CompressionLevel == 0 {
		opts.CompressionLevel = 3
	}

	if err := os.MkdirAll(opts.Path, 0o750); err != nil {
		return nil, fmt.Errorf("wal: create directory: %w", err)
	}

	path := filepath.Join(opts.Path, fileName)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o600) //nolint:gosec // path is operator-configured
	if err != nil {
		return nil, fmt.Errorf("wal: open %s: %w", path, err)
	}

	l := &Log{
		file:     file,
		filePath: path,
		opts:     opts,
		codec:    codec.Default,
	}

	st, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: stat: %w", err)
	}
	if st.Size() == 0 {
		if err := l.writeHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	} else {
		if err := l.readHeader(); err != nil {
			_ = file.Close()
			return nil, err
		}
	}

	if l.opts.Compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(l.opts.CompressionLevel)))
		if err != nil {
			_ = file.Close()
			return nil, fmt.Errorf("wal: create compressor: %w", err)
		}
		l.enc = enc
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("wal: create decompressor: %w", err)
	}
	l.dec = dec

	// Find the last complete frame so the next append continues after it.
	if err := l.scan(); err != nil {
		_ = file.Close()
		return nil, err
	}
	return l, nil
}

func (l *Log) writeHeader() error {
	name := l.codec.Name()
	buf := make([]byte, 0, 10+len(name))
	buf = append(buf, headerMagic[:]...)
	var flags byte
	if l.opts.Compress {
		flags |= flagCompressed
	}
	buf = append(buf, flags, byte(len(name)))
	buf = append(buf, name...)
	if _, err := l.file.Write(buf); err != nil {
		return fmt.Errorf("wal: write header: %w", err)
	}
	return l.file.Sync()
}

func (l *Log) readHeader() error {
	var fixed [10]byte
	if _, err := io.ReadFull(l.file, fixed[:]); err != nil {
		return fmt.Errorf("wal: read header: %w", err)
	}
	if [8]byte(fixed[:8]) != headerMagic {
		return errors.New("wal: bad magic, not a gravel log")
	}
	l.opts.Compress = fixed[8]&flagCompressed != 0
	nameBuf := make([]byte, fixed[9])
	if _, err := io.ReadFull(l.file, nameBuf); err != nil {
		return fmt.Errorf("wal: read header codec name: %w", err)
	}
	c, ok := codec.ByName(string(nameBuf))
	if !ok {
		return fmt.Errorf("wal: unknown codec %q", nameBuf)
	}
	l.codec = c
	return nil
}

func (l *Log) headerLen() int64 {
	return int64(10 + len(l.codec.Name()))
}

// scan walks existing frames, records the highest commit version, and
// truncates any incomplete tail left by a crash mid-append.
func (l *Log) scan() error {
	if _, err := l.file.Seek(l.headerLen(), io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(l.file)
	valid := l.headerLen()
	ops := 0
	for {
		entry, n, err := l.readFrame(r)
		if err != nil {
			break
		}
		valid += n
		ops++
		if entry.Commit > l.lastCommit {
			l.lastCommit = entry.Commit
		}
	}
	l.appendedOps = ops
	if err := l.file.Truncate(valid); err != nil {
		return fmt.Errorf("wal: truncate torn tail: %w", err)
	}
	if _, err := l.file.Seek(valid, io.SeekStart); err != nil {
		return err
	}
	return nil
}

// readFrame reads one frame from r, returning the decoded entry and the
// number of file bytes consumed.
func (l *Log) readFrame(r io.Reader) (*Entry, int64, error) {
	var hdr [8]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, 0, err
	}
	length := binary.LittleEndian.Uint32(hdr[:4])
	sum := binary.LittleEndian.Uint32(hdr[4:])
	if length > 1<<30 {
		return nil, 0, errors.New("wal: frame too large")
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, 0, err
	}
	if crc32.ChecksumIEEE(payload) != sum {
		return nil, 0, errors.New("wal: frame checksum mismatch")
	}
	if l.opts.Compress {
		raw, err := l.dec.DecodeAll(payload, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("wal: decompress frame: %w", err)
		}
		payload = raw
	}
	var entry Entry
	if err := l.codec.Unmarshal(payload, &entry); err != nil {
		return nil, 0, fmt.Errorf("wal: decode frame: %w", err)
	}
	return &entry, int64(8 + length), nil
}

// Append durably records one committed transaction.
func (l *Log) Append(entry *Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("wal: closed")
	}

	payload, err := l.codec.Marshal(entry)
	if err != nil {
		return fmt.Errorf("wal: encode entry: %w", err)
	}
	if l.enc != nil {
		payload = l.enc.EncodeAll(payload, nil)
	}

	var hdr [8]byte
	binary.LittleEndian.PutUint32(hdr[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(hdr[4:], crc32.ChecksumIEEE(payload))

	if _, err := l.file.Write(hdr[:]); err != nil {
		return fmt.Errorf("wal: append frame header: %w", err)
	}
	if _, err := l.file.Write(payload); err != nil {
		return fmt.Errorf("wal: append frame payload: %w", err)
	}
	if l.opts.SyncMode == SyncEveryCommit {
		if err := l.file.Sync(); err != nil {
			return fmt.Errorf("wal: fsync: %w", err)
		}
	}

	if entry.Commit > l.lastCommit {
		l.lastCommit = entry.Commit
	}
	l.appendedOps++
	return nil
}

// Replay invokes fn for every complete entry in commit order. Used at open
// to rebuild state newer than the last snapshot.
func (l *Log) Replay(fn func(*Entry) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.New("wal: closed")
	}

	pos, err := l.file.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	defer func() { _, _ = l.file.Seek(pos, io.SeekStart) }()

	if _, err := l.file.Seek(l.headerLen(), io.SeekStart); err != nil {
		return err
	}
	r := bufio.NewReader(l.file)
	for {
		entry, _, err := l.readFrame(r)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
				return nil
			}
			// Torn tail past the last checkpoint scan; everything
			// before it replayed fine.
			return nil
		}
		if err := fn(entry); err != nil {
			return err
		}
	}
}

// LastCommit returns the highest commit version present in the log.
func (l *Log) LastCommit() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastCommit
}

// Len returns the number of entries currently in the log.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.appendedOps
}

// Checkpoint truncates the log. Call after the current state has been
// persisted through a snapshot; entries up to the snapshot are no longer
// needed for recovery.
func (l *Log) Checkpoint() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.checkpointLocked()
}

func (l *Log) checkpointLocked() error {
	if l.file == nil {
		return errors.New("wal: closed")
	}
	if err := l.file.Truncate(l.headerLen()); err != nil {
		return fmt.Errorf("wal: checkpoint truncate: %w", err)
	}
	if _, err := l.file.Seek(l.headerLen(), io.SeekStart); err != nil {
		return err
	}
	if err := l.file.Sync(); err != nil {
		return err
	}
	l.appendedOps = 0
	return nil
}

// SetCheckpointCallback registers fn to run when MaybeCheckpoint finds a
// threshold crossed. Typically the store's snapshot-then-truncate.
func (l *Log) SetCheckpointCallback(fn func() error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.checkpointFn = fn
}

// MaybeCheckpoint runs the registered callback when the log has crossed a
// configured threshold. Call it only after the appended entry's state is
// published: the callback persists the published snapshot and then
// truncates the log, so running it mid-commit would save a state that
// predates the entry just appended and discard that entry with it.
func (l *Log) MaybeCheckpoint() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil || l.checkpointFn == nil {
		return nil
	}
	trigger := l.opts.CheckpointEveryOps > 0 && l.appendedOps >= l.opts.CheckpointEveryOps
	if !trigger && l.opts.CheckpointEveryBytes > 0 {
		if st, err := l.file.Stat(); err == nil && st.Size() >= l.opts.CheckpointEveryBytes {
			trigger = true
		}
	}
	if !trigger {
		return nil
	}
	l.appendedOps = 0
	// The callback snapshots the store and calls Checkpoint itself, so
	// release the lock around it.
	fn := l.checkpointFn
	l.mu.Unlock()
	err := fn()
	l.mu.Lock()
	return err
}

// FilePath returns the path of the log file.
func (l *Log) FilePath() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.filePath
}

// Close flushes and closes the log. Idempotent.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	if l.enc != nil {
		_ = l.enc.Close()
	}
	if l.dec != nil {
		l.dec.Close()
	}
	err := l.file.Close()
	l.file = nil
	return err
}
