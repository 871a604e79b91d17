package security

import (
	"errors"
	"strings"
	"testing"
)

func TestPayloadLimits_Size(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		size    int
		max     int
		wantErr error
	}{
		{name: "within limit", size: 100, max: 1024},
		{name: "at limit", size: 1024, max: 1024},
		{name: "over limit", size: 1025, max: 1024, wantErr: ErrPayloadTooLarge},
		{name: "zero max uses default", size: 100, max: 0},
		{name: "default applies", size: DefaultMaxPayloadSize + 1, max: 0, wantErr: ErrPayloadTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			data := []byte(`"` + strings.Repeat("a", max(tt.size-2, 0)) + `"`)
			err := PayloadLimits{MaxSize: tt.max}.Validate(data)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(size=%d, max=%d) = %v, want %v", tt.size, tt.max, err, tt.wantErr)
			}
		})
	}
}

func TestPayloadLimits_Depth(t *testing.T) {
	t.Parallel()

	nested := func(n int) string {
		return strings.Repeat("[", n) + strings.Repeat("]", n)
	}

	tests := []struct {
		name    string
		input   string
		depth   int
		wantErr error
	}{
		{name: "empty", input: "", depth: 5},
		{name: "flat object", input: `{"platform":"x","content":"hi"}`, depth: 5},
		{name: "at limit", input: nested(5), depth: 5},
		{name: "over limit", input: nested(6), depth: 5, wantErr: ErrJSONTooDeep},
		{name: "default depth", input: nested(DefaultMaxJSONDepth + 1), wantErr: ErrJSONTooDeep},
		{name: "malformed", input: `{"a":`, depth: 5, wantErr: ErrInvalidJSON},
		{name: "not json", input: `hello`, depth: 5, wantErr: ErrInvalidJSON},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := PayloadLimits{MaxDepth: tt.depth}.Validate([]byte(tt.input))
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}
