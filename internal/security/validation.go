package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Payload limits for job requests.
const (
	DefaultMaxPayloadSize = 256 << 10 // 256 KiB
	DefaultMaxJSONDepth   = 16
)

// Validation errors.
var (
	ErrPayloadTooLarge = errors.New("security: payload exceeds maximum size")
	ErrJSONTooDeep     = errors.New("security: JSON nesting exceeds maximum depth")
	ErrInvalidJSON     = errors.New("security: invalid JSON")
)

// PayloadLimits bounds an opaque job payload. Zero fields use the defaults.
type PayloadLimits struct {
	MaxSize  int `yaml:"max_size"`
	MaxDepth int `yaml:"max_depth"`
}

// Validate checks size first, then well-formedness and nesting depth.
// An empty payload is valid.
func (l PayloadLimits) Validate(data []byte) error {
	size := l.MaxSize
	if size <= 0 {
		size = DefaultMaxPayloadSize
	}
	if len(data) > size {
		return fmt.Errorf("%w: %d bytes (max %d)", ErrPayloadTooLarge, len(data), size)
	}
	return validateJSONDepth(data, l.MaxDepth)
}

// validateJSONDepth walks the token stream so that a deeply nested
// document is rejected before it is ever unmarshalled.
func validateJSONDepth(data []byte, limit int) error {
	if limit <= 0 {
		limit = DefaultMaxJSONDepth
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			if errors.Is(err, io.EOF) {
				if depth != 0 {
					return fmt.Errorf("%w: unexpected end of input", ErrInvalidJSON)
				}
				return nil
			}
			return fmt.Errorf("%w: %w", ErrInvalidJSON, err)
		}

		switch tok {
		case json.Delim('{'), json.Delim('['):
			depth++
			if depth > limit {
				return fmt.Errorf("%w: depth %d (max %d)", ErrJSONTooDeep, depth, limit)
			}
		case json.Delim('}'), json.Delim(']'):
			depth--
		}
	}
}
