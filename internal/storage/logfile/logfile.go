// Package logfile implements one physical file of the transaction log pair:
// a typed header followed by an append-only stream of encoded records.
package logfile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"

	xaerrors "github.com/devrev/pairdb/txcoordinator/internal/errors"
	"github.com/devrev/pairdb/txcoordinator/internal/model"
	"go.uber.org/zap"
)

// Options describes the format a log file is created with and expected to have
type Options struct {
	MajorVersion uint16
	MinorVersion uint16
	Identifier   string
}

// File is one log file. Writes and role transitions must be serialized by
// the caller; EndIndex may be read concurrently.
type File struct {
	path   string
	file   *os.File
	logger *zap.Logger

	headerMu sync.Mutex
	header   Header

	writeOff atomic.Int64
	cursor   *Reader

	truncated int64
}

// Open opens or creates the log file at path. A new file is initialized with
// the given role; an existing file keeps the role recorded in its header.
func Open(path string, opts Options, master bool, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	tag, err := identifierTag(opts.Identifier)
	if err != nil {
		return nil, xaerrors.InvalidArgument("invalid log file options", err)
	}

	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, xaerrors.LogIOFailed("failed to open log file", err)
	}

	lf := &File{path: path, file: f, logger: logger}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, xaerrors.LogIOFailed("failed to stat log file", err)
	}

	// A file shorter than its header cannot hold records: it was never
	// initialized or the crash happened while writing the header.
	if info.Size() < HeaderSize {
		if err := lf.initialize(opts, tag, master); err != nil {
			f.Close()
			return nil, err
		}
	} else {
		if err := lf.load(opts, tag, info.Size()); err != nil {
			f.Close()
			return nil, err
		}
	}

	lf.cursor = lf.NewReader()
	return lf, nil
}

func (f *File) initialize(opts Options, tag [IdentifierLen]byte, master bool) error {
	f.header = Header{
		Major:      opts.MajorVersion,
		Minor:      opts.MinorVersion,
		Identifier: tag,
		Master:     master,
	}
	if err := f.file.Truncate(0); err != nil {
		return xaerrors.LogIOFailed("failed to truncate log file", err)
	}
	if err := f.persistHeader(); err != nil {
		return err
	}
	f.writeOff.Store(HeaderSize)

	f.logger.Info("Initialized transaction log file",
		zap.String("path", f.path),
		zap.Stringer("role", f.header.Role()))
	return nil
}

func (f *File) load(opts Options, tag [IdentifierLen]byte, size int64) error {
	buf := make([]byte, HeaderSize)
	if _, err := f.file.ReadAt(buf, 0); err != nil {
		return xaerrors.LogIOFailed("failed to read log file header", err)
	}
	h, err := decodeHeader(buf)
	if err != nil {
		return xaerrors.LogCorrupted(f.path, err.Error())
	}
	if h.Identifier != tag {
		return xaerrors.LogCorrupted(f.path,
			fmt.Sprintf("logging identifier %q does not match %q", h.IdentifierString(), opts.Identifier))
	}
	if h.Major != opts.MajorVersion {
		return xaerrors.LogCorrupted(f.path,
			fmt.Sprintf("format version %d.%d is not readable by %d.%d", h.Major, h.Minor, opts.MajorVersion, opts.MinorVersion))
	}
	f.header = h

	end, err := f.scanEnd(size)
	if err != nil {
		return err
	}
	if end < size {
		// Partially written trailing record from a crash mid-write.
		if err := f.file.Truncate(end); err != nil {
			return xaerrors.LogIOFailed("failed to truncate torn log tail", err)
		}
		f.truncated = size - end
		f.logger.Warn("Truncated torn record at end of transaction log",
			zap.String("path", f.path),
			zap.Int64("offset", end),
			zap.Int64("bytes", size-end))
	}
	f.writeOff.Store(end)
	return nil
}

// scanEnd walks record headers from the start of the data and returns the
// offset just past the last complete, well-formed record. A malformed record
// is accepted as a torn tail only when no data follows it.
func (f *File) scanEnd(size int64) (int64, error) {
	off := int64(HeaderSize)
	hdr := make([]byte, model.RecordHeaderSize)
	for off+model.RecordHeaderSize <= size {
		if _, err := f.file.ReadAt(hdr, off); err != nil {
			return 0, xaerrors.LogIOFailed("failed to scan log file", err)
		}
		length := model.PayloadLength(hdr)
		next := off + model.RecordHeaderSize + int64(max(length, 0))
		if next > size {
			// Declared end runs past the file: interrupted append
			break
		}
		if !model.Operator(hdr[model.IDLength]).Valid() || length < 0 {
			if next == size {
				break
			}
			return 0, xaerrors.LogCorrupted(f.path,
				fmt.Sprintf("malformed record at offset %d followed by %d bytes", off, size-next))
		}
		off = next
	}
	return off, nil
}

// Path returns the file path
func (f *File) Path() string {
	return f.path
}

// Header returns a copy of the current header
func (f *File) Header() Header {
	f.headerMu.Lock()
	defer f.headerMu.Unlock()
	return f.header
}

// IsMaster reports whether the header declares this file MASTER
func (f *File) IsMaster() bool {
	return f.Header().Master
}

// IsMarked reports whether the rotation marker bit is set
func (f *File) IsMarked() bool {
	return f.Header().Marked
}

// EndIndex returns the current write position
func (f *File) EndIndex() int64 {
	return f.writeOff.Load()
}

// DataSize returns the number of record bytes stored after the header
func (f *File) DataSize() int64 {
	return f.EndIndex() - HeaderSize
}

// TruncatedBytes returns how many torn bytes were cut off when the file was opened
func (f *File) TruncatedBytes() int64 {
	return f.truncated
}

// Write appends one record at the write cursor
func (f *File) Write(rec model.LogRecord) (int, error) {
	data := rec.Encode()
	off := f.writeOff.Load()
	n, err := f.file.WriteAt(data, off)
	if err != nil {
		// Drop whatever part of the record reached the file so the next
		// append starts on a record boundary.
		if terr := f.file.Truncate(off); terr != nil {
			f.logger.Error("Failed to roll back partial record",
				zap.String("path", f.path), zap.Error(terr))
		}
		return 0, xaerrors.LogIOFailed("failed to append log record", err)
	}
	f.writeOff.Store(off + int64(n))
	return n, nil
}

// PrepareForReading rewinds the file's own read cursor to the first record.
// The write cursor is unaffected.
func (f *File) PrepareForReading() {
	f.cursor.Rewind()
}

// Read returns the next encoded record at the read cursor, or an empty slice
// once the cursor reaches the write position.
func (f *File) Read() ([]byte, error) {
	return f.cursor.Next()
}

// NewReader returns an independent cursor positioned at the first record
func (f *File) NewReader() *Reader {
	return &Reader{file: f, off: HeaderSize}
}

// FlushImmediately forces every write since the last flush to stable storage
func (f *File) FlushImmediately() error {
	if err := datasync(f.file); err != nil {
		return xaerrors.LogIOFailed("failed to flush log file", err)
	}
	return nil
}

// Reset discards every record, keeping the header
func (f *File) Reset() error {
	if err := f.file.Truncate(HeaderSize); err != nil {
		return xaerrors.LogIOFailed("failed to reset log file", err)
	}
	f.writeOff.Store(HeaderSize)
	f.cursor.Rewind()
	return nil
}

// MarkAsMaster durably sets the marker bit, declaring this file the one about
// to become MASTER.
func (f *File) MarkAsMaster() error {
	return f.updateHeader(func(h *Header) { h.Marked = true })
}

// SwitchToSlave durably demotes the file to SLAVE and clears its marker
func (f *File) SwitchToSlave() error {
	return f.updateHeader(func(h *Header) {
		h.Master = false
		h.Marked = false
	})
}

// SwitchToMaster durably promotes the file to MASTER and clears its marker
func (f *File) SwitchToMaster() error {
	return f.updateHeader(func(h *Header) {
		h.Master = true
		h.Marked = false
	})
}

// FixSwitchError completes an interrupted promotion of a marked file
func (f *File) FixSwitchError() error {
	return f.SwitchToMaster()
}

// ClearMarkedFlag durably clears a stale marker bit, if set
func (f *File) ClearMarkedFlag() error {
	if !f.IsMarked() {
		return nil
	}
	return f.updateHeader(func(h *Header) { h.Marked = false })
}

func (f *File) updateHeader(fn func(h *Header)) error {
	f.headerMu.Lock()
	prev := f.header
	fn(&f.header)
	f.headerMu.Unlock()

	if err := f.persistHeader(); err != nil {
		f.headerMu.Lock()
		f.header = prev
		f.headerMu.Unlock()
		return err
	}
	return nil
}

// persistHeader writes the header in place and syncs it. Header updates are
// always durable regardless of the caller's flush policy.
func (f *File) persistHeader() error {
	data := f.Header().encode()
	if _, err := f.file.WriteAt(data, 0); err != nil {
		return xaerrors.LogIOFailed("failed to write log file header", err)
	}
	if err := datasync(f.file); err != nil {
		return xaerrors.LogIOFailed("failed to sync log file header", err)
	}
	return nil
}

// Close closes the underlying file
func (f *File) Close() error {
	return f.file.Close()
}

// CloseQuietly closes the file, logging instead of returning errors
func (f *File) CloseQuietly() {
	if err := f.file.Close(); err != nil && !errors.Is(err, os.ErrClosed) {
		f.logger.Debug("Failed to close log file", zap.String("path", f.path), zap.Error(err))
	}
}

// Reader is a sequential cursor over the records of a File
type Reader struct {
	file *File
	off  int64
}

// Rewind moves the cursor back to the first record
func (r *Reader) Rewind() {
	r.off = HeaderSize
}

// Next returns the next encoded record, or an empty slice at end of data
func (r *Reader) Next() ([]byte, error) {
	end := r.file.EndIndex()
	if r.off+model.RecordHeaderSize > end {
		return []byte{}, nil
	}

	hdr := make([]byte, model.RecordHeaderSize)
	if _, err := r.file.file.ReadAt(hdr, r.off); err != nil {
		return nil, xaerrors.LogIOFailed("failed to read log record header", err)
	}
	length := model.PayloadLength(hdr)
	if length < 0 {
		return nil, xaerrors.LogCorrupted(r.file.path, fmt.Sprintf("negative record length at offset %d", r.off))
	}
	size := int64(model.RecordHeaderSize) + int64(length)
	if r.off+size > end {
		return []byte{}, nil
	}

	data := make([]byte, size)
	copy(data, hdr)
	if length > 0 {
		if _, err := r.file.file.ReadAt(data[model.RecordHeaderSize:], r.off+model.RecordHeaderSize); err != nil && err != io.EOF {
			return nil, xaerrors.LogIOFailed("failed to read log record payload", err)
		}
	}
	r.off += size
	return data, nil
}

// NextRecord decodes the next record. ok is false at end of data.
func (r *Reader) NextRecord() (rec model.LogRecord, ok bool, err error) {
	data, err := r.Next()
	if err != nil {
		return model.LogRecord{}, false, err
	}
	if len(data) == 0 {
		return model.LogRecord{}, false, nil
	}
	rec, err = model.DecodeRecord(data)
	if err != nil {
		return model.LogRecord{}, false, xaerrors.LogCorrupted(r.file.path, err.Error())
	}
	return rec, true, nil
}
