package repository

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursor — позиция keyset-пагинации: значение столбца сортировки
// и id последней выданной строки. Снаружи передаётся только как
// непрозрачный токен (Encode / DecodeCursor).
type Cursor struct {
	Timestamp time.Time
	ID        int64
}

var cursorEncoding = base64.RawURLEncoding.Strict()

// Encode возвращает токен курсора: base64url от "<RFC3339Nano UTC>:<id>".
func (c Cursor) Encode() string {
	raw := c.Timestamp.UTC().Format(time.RFC3339Nano) + ":" + strconv.FormatInt(c.ID, 10)
	return cursorEncoding.EncodeToString([]byte(raw))
}

// DecodeCursor разбирает токен. Любое отклонение от канонической формы
// (лишние символы, не-UTC время, id <= 0) — ErrInvalidCursor.
func DecodeCursor(token string) (Cursor, error) {
	raw, err := cursorEncoding.DecodeString(token)
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: %w", ErrInvalidCursor, err)
	}

	s := string(raw)
	sep := strings.LastIndexByte(s, ':')
	if sep <= 0 || sep == len(s)-1 {
		return Cursor{}, fmt.Errorf("%w: нет разделителя", ErrInvalidCursor)
	}

	ts, err := time.Parse(time.RFC3339Nano, s[:sep])
	if err != nil {
		return Cursor{}, fmt.Errorf("%w: время: %w", ErrInvalidCursor, err)
	}
	id, err := strconv.ParseInt(s[sep+1:], 10, 64)
	if err != nil || id <= 0 {
		return Cursor{}, fmt.Errorf("%w: id %q", ErrInvalidCursor, s[sep+1:])
	}

	c := Cursor{Timestamp: ts.UTC(), ID: id}
	if c.Encode() != token {
		return Cursor{}, fmt.Errorf("%w: неканоническая форма", ErrInvalidCursor)
	}
	return c, nil
}
