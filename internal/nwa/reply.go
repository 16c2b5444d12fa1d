package nwa

import (
	"bufio"
	"encoding/binary"
	"io"
	"strings"
)

// Field is one key:value pair of a text reply.
type Field struct {
	Key   string
	Value string
}

// Reply is a decoded NWA reply.
//
// Valid is false for malformed replies and for the zero Reply returned when
// nothing is queued.
type Reply struct {
	Valid  bool
	IsText bool
	Fields []Field // Text replies, in wire order; keys may repeat
	Data   []byte  // Binary replies
}

// Get returns the first value stored under key, or "".
func (r Reply) Get(key string) string {
	for _, f := range r.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

// Has reports whether key is present.
func (r Reply) Has(key string) bool {
	for _, f := range r.Fields {
		if f.Key == key {
			return true
		}
	}
	return false
}

// Values returns every value stored under key.
func (r Reply) Values(key string) []string {
	var out []string
	for _, f := range r.Fields {
		if f.Key == key {
			out = append(out, f.Value)
		}
	}
	return out
}

// Map flattens the fields; the first occurrence of a key wins.
func (r Reply) Map() map[string]string {
	m := make(map[string]string, len(r.Fields))
	for _, f := range r.Fields {
		if _, ok := m[f.Key]; !ok {
			m[f.Key] = f.Value
		}
	}
	return m
}

// IsError reports whether the emulator answered with an error reply.
func (r Reply) IsError() bool {
	return r.IsText && r.Has("error")
}

// ErrorText returns the "reason" (or "error") of an error reply.
func (r Reply) ErrorText() string {
	if !r.IsError() {
		return ""
	}
	if reason := r.Get("reason"); reason != "" {
		return reason
	}
	return r.Get("error")
}

// ReadReply decodes one reply from r. A non-nil error means the stream is
// unusable; protocol violations are reported as an invalid Reply instead.
func ReadReply(r *bufio.Reader) (Reply, error) {
	lead, err := r.ReadByte()
	if err != nil {
		return Reply{}, err
	}

	switch lead {
	case textLead:
		return readText(r)
	case binaryLead:
		return readBinary(r)
	default:
		// Resync on the next newline.
		if _, _, err := readLine(r); err != nil {
			return Reply{}, err
		}
		return Reply{}, nil
	}
}

func readText(r *bufio.Reader) (Reply, error) {
	rep := Reply{Valid: true, IsText: true}
	for {
		line, tooLong, err := readLine(r)
		if err != nil {
			return Reply{}, err
		}
		if tooLong || len(line) > MaxLineLength {
			rep.Valid = false
			continue
		}
		if line == "" {
			return rep, nil
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			rep.Valid = false
			continue
		}
		rep.Fields = append(rep.Fields, Field{Key: key, Value: value})
	}
}

func readBinary(r *bufio.Reader) (Reply, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return Reply{}, err
	}
	if size > MaxBinarySize {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return Reply{}, err
		}
		return Reply{}, nil
	}
	data := make([]byte, size)
	if _, err := io.ReadFull(r, data); err != nil {
		return Reply{}, err
	}
	return Reply{Valid: true, Data: data}, nil
}

// readLine reads up to the next newline and strips the line ending. At most
// MaxLineLength bytes of a line are buffered; the rest of a longer line is
// skipped and reported as too long.
func readLine(r *bufio.Reader) (string, bool, error) {
	var (
		buf     []byte
		tooLong bool
	)
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(buf)+len(chunk) > MaxLineLength+len("\r\n") {
				tooLong = true
				buf = nil
			} else {
				buf = append(buf, chunk...)
			}
		}
		switch err {
		case nil:
			if tooLong {
				return "", true, nil
			}
			return strings.TrimRight(string(buf), "\r\n"), false, nil
		case bufio.ErrBufferFull:
			continue
		default:
			return "", tooLong, err
		}
	}
}
