package stores

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
)

const enrollmentRecordVersion1 = 1

var (
	ErrEnrollmentNotFound = errors.New("mfa enrollment not found")
	ErrEnrollmentExpired  = errors.New("mfa enrollment expired")
	ErrEnrollmentBackend  = errors.New("mfa enrollment backend unavailable")
)

// PendingEnrollment is a TOTP secret awaiting its first code.
type PendingEnrollment struct {
	Identity     string
	SealedSecret []byte
	ExpiresAt    int64
	Attempts     uint16
}

// EnrollmentStore keeps one pending enrollment per identity. A new
// enrollment replaces the previous one.
type EnrollmentStore struct {
	redis  redis.UniversalClient
	prefix string
	now    func() time.Time
}

func NewEnrollmentStore(redisClient redis.UniversalClient, keyPrefix string, now func() time.Time) *EnrollmentStore {
	if keyPrefix == "" {
		keyPrefix = "gt"
	}
	if now == nil {
		now = time.Now
	}
	return &EnrollmentStore{redis: redisClient, prefix: keyPrefix + ":enr:", now: now}
}

func (s *EnrollmentStore) key(identity string) string {
	return s.prefix + identity
}

// Save stores record for ttl.
func (s *EnrollmentStore) Save(ctx context.Context, record *PendingEnrollment, ttl time.Duration) error {
	encoded, err := encodeEnrollment(record)
	if err != nil {
		return err
	}
	if err := s.redis.Set(ctx, s.key(record.Identity), encoded, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return nil
}

// Get returns the pending enrollment of identity.
func (s *EnrollmentStore) Get(ctx context.Context, identity string) (*PendingEnrollment, error) {
	data, err := s.redis.Get(ctx, s.key(identity)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}

	record, err := decodeEnrollment(data)
	if err != nil {
		_, _ = s.redis.Del(ctx, s.key(identity)).Result()
		return nil, ErrEnrollmentNotFound
	}
	if s.now().Unix() > record.ExpiresAt {
		_, _ = s.redis.Del(ctx, s.key(identity)).Result()
		return nil, ErrEnrollmentExpired
	}
	return record, nil
}

// Delete discards the pending enrollment.
func (s *EnrollmentStore) Delete(ctx context.Context, identity string) (bool, error) {
	n, err := s.redis.Del(ctx, s.key(identity)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
	}
	return n > 0, nil
}

// RecordFailure counts a wrong confirmation code. When maxAttempts is
// reached the enrollment is discarded and exceeded is true.
func (s *EnrollmentStore) RecordFailure(ctx context.Context, identity string, maxAttempts int) (bool, error) {
	const maxRetries = 4
	key := s.key(identity)

	for i := 0; i < maxRetries; i++ {
		var exceeded bool
		err := s.redis.Watch(ctx, func(tx *redis.Tx) error {
			data, err := tx.Get(ctx, key).Bytes()
			if err != nil {
				return err
			}
			record, err := decodeEnrollment(data)
			if err != nil {
				return err
			}

			ttl := time.Unix(record.ExpiresAt, 0).Sub(s.now())
			record.Attempts++
			if int(record.Attempts) >= maxAttempts || ttl <= 0 {
				exceeded = int(record.Attempts) >= maxAttempts
				_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
					pipe.Del(ctx, key)
					return nil
				})
				if err != nil {
					return err
				}
				if !exceeded {
					return ErrEnrollmentExpired
				}
				return nil
			}

			updated, err := encodeEnrollment(record)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, updated, redis.KeepTTL)
				return nil
			})
			return err
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return false, ErrEnrollmentNotFound
			}
			if errors.Is(err, ErrEnrollmentExpired) {
				return false, err
			}
			return false, fmt.Errorf("%w: %v", ErrEnrollmentBackend, err)
		}
		return exceeded, nil
	}

	return false, fmt.Errorf("%w: contention", ErrEnrollmentBackend)
}

func encodeEnrollment(record *PendingEnrollment) ([]byte, error) {
	if len(record.Identity) > 65535 || len(record.SealedSecret) > 65535 {
		return nil, errors.New("enrollment field length exceeded")
	}

	var buf bytes.Buffer
	buf.WriteByte(enrollmentRecordVersion1)
	if err := binary.Write(&buf, binary.BigEndian, record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, record.ExpiresAt); err != nil {
		return nil, err
	}
	for _, field := range [][]byte{[]byte(record.Identity), record.SealedSecret} {
		if err := binary.Write(&buf, binary.BigEndian, uint16(len(field))); err != nil {
			return nil, err
		}
		buf.Write(field)
	}
	return buf.Bytes(), nil
}

func decodeEnrollment(data []byte) (*PendingEnrollment, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != enrollmentRecordVersion1 {
		return nil, errors.New("invalid enrollment version")
	}

	record := &PendingEnrollment{}
	if err := binary.Read(reader, binary.BigEndian, &record.Attempts); err != nil {
		return nil, err
	}
	if err := binary.Read(reader, binary.BigEndian, &record.ExpiresAt); err != nil {
		return nil, err
	}

	fields := make([][]byte, 2)
	for i := range fields {
		var n uint16
		if err := binary.Read(reader, binary.BigEndian, &n); err != nil {
			return nil, err
		}
		fields[i] = make([]byte, n)
		if _, err := io.ReadFull(reader, fields[i]); err != nil {
			return nil, err
		}
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing enrollment bytes")
	}
	record.Identity = string(fields[0])
	record.SealedSecret = fields[1]
	return record, nil
}
