package wire

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// FileEntry is one file advertised by a listing.
type FileEntry struct {
	Name string
	Size uint64
}

// EncodeRecord returns the "<name>,<size>" listing record for e.
func EncodeRecord(e FileEntry) ([]byte, error) {
	if err := ValidateName(e.Name); err != nil {
		return nil, err
	}
	return []byte(e.Name + RecordSeparator + strconv.FormatUint(e.Size, 10)), nil
}

// ParseRecord decodes a listing record. The record must split on exactly one
// comma and the size must be a non-negative decimal integer.
func ParseRecord(msg []byte) (FileEntry, error) {
	parts := strings.Split(string(msg), RecordSeparator)
	if len(parts) != 2 {
		return FileEntry{}, fmt.Errorf("%w: %q has %d fields", ErrMalformedRecord, truncate(string(msg), 64), len(parts))
	}

	name, sizeText := parts[0], parts[1]
	if err := ValidateName(name); err != nil {
		return FileEntry{}, fmt.Errorf("%w: %v", ErrMalformedRecord, err)
	}
	// ParseUint accepts a leading '+', the wire format does not
	if sizeText == "" || sizeText[0] < '0' || sizeText[0] > '9' {
		return FileEntry{}, fmt.Errorf("%w: invalid size %q", ErrMalformedRecord, truncate(sizeText, 32))
	}
	size, err := strconv.ParseUint(sizeText, 10, 64)
	if err != nil {
		return FileEntry{}, fmt.Errorf("%w: invalid size %q", ErrMalformedRecord, truncate(sizeText, 32))
	}

	return FileEntry{Name: name, Size: size}, nil
}

// ValidateName checks that name can travel in a command or a record and be
// used as a flat local file name.
func ValidateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalidName)
	case len(name) > maxNameLength:
		return fmt.Errorf("%w: name longer than %d bytes", ErrInvalidName, maxNameLength)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: name is not valid UTF-8", ErrInvalidName)
	case name == "." || name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.Contains(name, RecordSeparator):
		return fmt.Errorf("%w: %q contains the record separator", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`):
		return fmt.Errorf("%w: %q contains a path separator", ErrInvalidName, name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("%w: %q contains a control character", ErrInvalidName, name)
		}
	}
	return nil
}

// WriteAck sends the two byte acknowledgment.
func WriteAck(w io.Writer) error {
	_, err := w.Write([]byte(Ack))
	return err
}

// ReadAck reads exactly one acknowledgment from r.
func ReadAck(r io.Reader) error {
	buf := make([]byte, len(Ack))
	if _, err := io.ReadFull(r, buf); err != nil {
		return err
	}
	if !IsAck(buf) {
		return fmt.Errorf("%w: got %q", ErrBadAck, buf)
	}
	return nil
}
