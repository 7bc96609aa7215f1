package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"
)

const (
	projectionVersionCurrent = 1

	flagMFACompleted = 1 << 0
	flagMFAPending   = 1 << 1
)

var errProjectionVersion = errors.New("invalid session projection version")

// Encode serializes the mirrored projection of an active session.
func Encode(s *Session) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(96 + len(s.ID) + len(s.Identity))

	buf.WriteByte(projectionVersionCurrent)
	for _, field := range []struct {
		name  string
		value string
	}{
		{"id", s.ID},
		{"identity", s.Identity},
		{"region", s.Region},
		{"ip", s.Context.IP},
		{"fingerprint", s.Context.Fingerprint},
	} {
		if len(field.value) > 255 {
			return nil, fmt.Errorf("%s too long", field.name)
		}
		buf.WriteByte(byte(len(field.value)))
		buf.WriteString(field.value)
	}

	for _, ts := range []time.Time{s.CreatedAt, s.ExpiresAt, s.LastActivityAt, s.AbsoluteExpiresAt} {
		if err := binary.Write(&buf, binary.BigEndian, ts.UnixMilli()); err != nil {
			return nil, err
		}
	}

	var flags byte
	if s.MFACompleted {
		flags |= flagMFACompleted
	}
	if s.MFAPending {
		flags |= flagMFAPending
	}
	buf.WriteByte(flags)

	return buf.Bytes(), nil
}

// Decode parses a projection written by [Encode]. The result is always in
// the Active state; terminated sessions are never mirrored.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != projectionVersionCurrent {
		return nil, errProjectionVersion
	}

	s := &Session{State: Active()}
	for _, dst := range []*string{&s.ID, &s.Identity, &s.Region, &s.Context.IP, &s.Context.Fingerprint} {
		n, err := reader.ReadByte()
		if err != nil {
			return nil, err
		}
		raw := make([]byte, n)
		if _, err := io.ReadFull(reader, raw); err != nil {
			return nil, err
		}
		*dst = string(raw)
	}

	for _, dst := range []*time.Time{&s.CreatedAt, &s.ExpiresAt, &s.LastActivityAt, &s.AbsoluteExpiresAt} {
		var ms int64
		if err := binary.Read(reader, binary.BigEndian, &ms); err != nil {
			return nil, err
		}
		*dst = time.UnixMilli(ms).UTC()
	}

	flags, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.MFACompleted = flags&flagMFACompleted != 0
	s.MFAPending = flags&flagMFAPending != 0

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes in session projection")
	}
	return s, nil
}
