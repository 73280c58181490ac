package envelope

import (
	"encoding/binary"
	"fmt"
)

// The serialized envelope layout is a single version byte followed by five
// length-prefixed fields, in order: salt, nonce, wrapped key, ciphertext,
// tag. Lengths are big-endian uint32. The format is self-describing enough
// that future versions can change the field set behind a new version byte;
// decoders reject unknown versions rather than guessing a layout.

// Marshal serializes the envelope into its binary wire format.
func Marshal(e *Envelope) ([]byte, error) {
	if e == nil {
		return nil, &FormatError{Reason: "envelope is nil"}
	}
	if err := e.validate(); err != nil {
		return nil, err
	}

	size := 1
	fields := [][]byte{e.Salt, e.Nonce, e.WrappedKey, e.Ciphertext, e.Tag}
	for _, f := range fields {
		size += 4 + len(f)
	}

	out := make([]byte, 0, size)
	out = append(out, e.Version)
	for _, f := range fields {
		out = binary.BigEndian.AppendUint32(out, uint32(len(f)))
		out = append(out, f...)
	}

	return out, nil
}

// Parse deserializes an envelope from its binary wire format. It fails with a
// FormatError on truncated or otherwise malformed input and on unknown
// format versions.
func Parse(data []byte) (*Envelope, error) {
	if len(data) == 0 {
		return nil, &FormatError{Reason: "empty input"}
	}

	version := data[0]
	if version != FormatVersion {
		return nil, &FormatError{Reason: fmt.Sprintf("unsupported envelope version %d", version)}
	}

	rest := data[1:]
	fields := make([][]byte, 5)
	names := []string{"salt", "nonce", "wrapped key", "ciphertext", "tag"}
	for i, name := range names {
		var err error
		fields[i], rest, err = readField(rest, name)
		if err != nil {
			return nil, err
		}
	}
	if len(rest) != 0 {
		return nil, &FormatError{Reason: fmt.Sprintf("%d trailing bytes after envelope", len(rest))}
	}

	e := &Envelope{
		Version:    version,
		Salt:       fields[0],
		Nonce:      fields[1],
		WrappedKey: fields[2],
		Ciphertext: fields[3],
		Tag:        fields[4],
	}

	if len(e.Salt) != saltSize {
		return nil, &FormatError{Reason: fmt.Sprintf("salt must be %d bytes, got %d", saltSize, len(e.Salt))}
	}
	if len(e.Nonce) != nonceSize {
		return nil, &FormatError{Reason: fmt.Sprintf("nonce must be %d bytes, got %d", nonceSize, len(e.Nonce))}
	}
	if len(e.WrappedKey) == 0 {
		return nil, &FormatError{Reason: "wrapped key is empty"}
	}
	if len(e.Ciphertext) == 0 {
		return nil, &FormatError{Reason: "ciphertext is empty"}
	}
	if len(e.Tag) != tagSize {
		return nil, &FormatError{Reason: fmt.Sprintf("tag must be %d bytes, got %d", tagSize, len(e.Tag))}
	}

	return e, nil
}

// readField consumes one length-prefixed field from data and returns the
// field and the remaining bytes.
func readField(data []byte, name string) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, &FormatError{Reason: fmt.Sprintf("truncated input reading %s length", name)}
	}
	n := binary.BigEndian.Uint32(data[:4])
	data = data[4:]
	if uint32(len(data)) < n {
		return nil, nil, &FormatError{Reason: fmt.Sprintf("truncated input reading %s: want %d bytes, have %d", name, n, len(data))}
	}
	field := make([]byte, n)
	copy(field, data[:n])
	return field, data[n:], nil
}
