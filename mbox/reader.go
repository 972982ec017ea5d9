// Package mbox reads mbox archives as a sequence of raw messages.
//
// The reader tracks absolute byte offsets so that a consumer can persist the
// end of the last processed message and resume from it later. Body lines that
// begin with "From " are expected to be escaped by the writer (">From ", mboxrd);
// one leading '>' is removed from every line matching ^>+From  unless
// Options.KeepEscapes is set.
package mbox

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dhcgn/mbox-archive/model"
)

var fromPrefix = []byte("From ")

// ParseError reports structural corruption of the mailbox at a known offset.
type ParseError struct {
	Offset int64
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("mbox parse error at offset %d: %s", e.Offset, e.Reason)
}

// Options controls how separators and escapes are interpreted.
type Options struct {
	// KeepEscapes disables mboxrd unescaping of ">From " lines.
	KeepEscapes bool
}

// Reader yields raw messages from an mbox stream in file order.
type Reader struct {
	br     *bufio.Reader
	offset int64
	opts   Options

	next       []byte
	nextOffset int64
	hasNext    bool
	prevBlank  bool
	eof        bool
}

// NewReader reads messages from r, whose first byte sits at offset start
// within the mailbox file.
func NewReader(r io.Reader, start int64, opts Options) *Reader {
	return &Reader{
		br:        bufio.NewReaderSize(r, 64*1024),
		offset:    start,
		opts:      opts,
		prevBlank: true,
	}
}

// Offset reports the number of bytes consumed, as an absolute file offset.
func (r *Reader) Offset() int64 {
	return r.offset
}

// Next returns the next message. It returns io.EOF once the stream is
// exhausted and a *ParseError if the final message is truncated: nothing
// follows its separator line, or its header block ends at end of file.
func (r *Reader) Next() (model.RawMessage, error) {
	if !r.hasNext {
		if r.eof {
			return model.RawMessage{}, io.EOF
		}
		if err := r.seekSeparator(); err != nil {
			return model.RawMessage{}, err
		}
	}

	msg := model.RawMessage{
		Offset:   r.nextOffset,
		FromLine: string(bytes.TrimRight(r.next, "\r\n")),
	}
	fromTerminated := bytes.HasSuffix(r.next, []byte("\n"))
	r.hasNext = false
	r.prevBlank = false

	var (
		buf  bytes.Buffer
		last []byte
		// body is set once the blank line ending the header block was read.
		body bool
	)
	for {
		start := r.offset
		line, err := r.readLine()
		if len(line) > 0 {
			if r.isSeparator(line) {
				r.stash(line, start)
				msg.End = start
				break
			}
			r.prevBlank = isBlank(line)
			if r.prevBlank {
				body = true
			}
			if !r.opts.KeepEscapes {
				line = unescapeFrom(line)
			}
			buf.Write(line)
			last = line
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return model.RawMessage{}, err
			}
			r.eof = true
			msg.End = r.offset
			// A missing final newline is tolerated once the body has started.
			if !fromTerminated || last == nil || (!body && !bytes.HasSuffix(last, []byte("\n"))) {
				return model.RawMessage{}, &ParseError{Offset: msg.Offset, Reason: "message truncated at end of file"}
			}
			break
		}
	}

	msg.Data = trimSeparatorLine(buf.Bytes())
	return msg, nil
}

// seekSeparator skips anything before the next separator line.
func (r *Reader) seekSeparator() error {
	for {
		start := r.offset
		line, err := r.readLine()
		if len(line) > 0 && r.isSeparator(line) {
			r.stash(line, start)
			return nil
		}
		r.prevBlank = isBlank(line)
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.eof = true
				return io.EOF
			}
			return err
		}
	}
}

func (r *Reader) stash(line []byte, offset int64) {
	r.next = append(r.next[:0], line...)
	r.nextOffset = offset
	r.hasNext = true
}

func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	r.offset += int64(len(line))
	return line, err
}

// isSeparator accepts a "From " line that starts the stream, follows a blank
// line, or carries a parseable mbox date trailer.
func (r *Reader) isSeparator(line []byte) bool {
	if !bytes.HasPrefix(line, fromPrefix) {
		return false
	}
	if r.prevBlank {
		return true
	}
	_, ok := ParseSeparatorDate(string(bytes.TrimRight(line, "\r\n")))
	return ok
}

var separatorLayouts = []struct {
	fields int
	layout string
}{
	{5, time.ANSIC},
	{6, "Mon Jan _2 15:04:05 -0700 2006"},
	{6, time.UnixDate},
	{6, "Mon Jan _2 15:04:05 2006 -0700"},
}

// ParseSeparatorDate extracts the timestamp from a "From sender date" line.
func ParseSeparatorDate(line string) (time.Time, bool) {
	if !strings.HasPrefix(line, "From ") {
		return time.Time{}, false
	}
	fields := strings.Fields(line[len("From "):])
	for _, l := range separatorLayouts {
		if len(fields) < l.fields+1 {
			continue
		}
		value := strings.Join(fields[len(fields)-l.fields:], " ")
		if t, err := time.Parse(l.layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func unescapeFrom(line []byte) []byte {
	if len(line) == 0 || line[0] != '>' {
		return line
	}
	i := 0
	for i < len(line) && line[i] == '>' {
		i++
	}
	if bytes.HasPrefix(line[i:], fromPrefix) {
		return line[1:]
	}
	return line
}

func isBlank(line []byte) bool {
	return len(bytes.TrimRight(line, "\r\n")) == 0
}

// trimSeparatorLine drops the blank line that precedes the next separator.
func trimSeparatorLine(data []byte) []byte {
	switch {
	case bytes.HasSuffix(data, []byte("\r\n\r\n")):
		return data[:len(data)-2]
	case bytes.HasSuffix(data, []byte("\n\n")):
		return data[:len(data)-1]
	}
	return data
}

// File is a Reader over an opened mailbox file.
type File struct {
	*Reader
	file *os.File
	size int64
}

// Open opens path read-only and positions the reader at start.
func Open(path string, start int64, opts Options) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &model.IOError{Op: "open mbox", Path: path, Err: err}
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &model.IOError{Op: "stat mbox", Path: path, Err: err}
	}
	if start > info.Size() {
		f.Close()
		return nil, &model.IOError{Op: "seek mbox", Path: path, Err: fmt.Errorf("offset %d beyond file size %d", start, info.Size())}
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		f.Close()
		return nil, &model.IOError{Op: "seek mbox", Path: path, Err: err}
	}
	return &File{Reader: NewReader(f, start, opts), file: f, size: info.Size()}, nil
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.file.Name()
}

// Size reports the size of the mailbox file when it was opened.
func (f *File) Size() int64 {
	return f.size
}

func (f *File) Close() error {
	return f.file.Close()
}
