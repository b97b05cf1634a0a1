package binder

import (
	"context"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOf_DerivesNamesAndSkipsContext(t *testing.T) {
	sig, err := Of(func(ctx context.Context, a int, b string) error { return nil }, "a", "b")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, sig.Names())
	require.Len(t, sig.Types, 2)
	assert.Equal(t, "int", sig.Types[0].String())
}

func TestOf_DefaultNames(t *testing.T) {
	sig, err := Of(func(int, int) int { return 0 })
	require.NoError(t, err)
	assert.Equal(t, []string{"arg0", "arg1"}, sig.Names())
}

func TestOf_Variadic(t *testing.T) {
	sig, err := Of(func(a int, rest ...int) int { return 0 }, "a", "rest")
	require.NoError(t, err)
	assert.True(t, sig.Params[1].Variadic)
}

func TestOf_Errors(t *testing.T) {
	_, err := Of(42)
	assert.True(t, errors.Is(err, ErrNotAFunction))

	_, err = Of(nil)
	assert.True(t, errors.Is(err, ErrNotAFunction))

	_, err = Of(func(a int) {}, "a", "b")
	assert.Error(t, err)
}

func TestBind(t *testing.T) {
	sig := New("a", "b").WithDefault("b", 10)

	tests := []struct {
		name       string
		positional []any
		named      map[string]any
		want       map[string]any
		wantErr    string
	}{
		{
			name:       "positional",
			positional: []any{1, 2},
			want:       map[string]any{"a": 1, "b": 2},
		},
		{
			name:       "default fills missing",
			positional: []any{1},
			want:       map[string]any{"a": 1, "b": 10},
		},
		{
			name:  "named",
			named: map[string]any{"a": 3, "b": 4},
			want:  map[string]any{"a": 3, "b": 4},
		},
		{
			name:    "missing required",
			named:   map[string]any{"b": 4},
			wantErr: "missing required arguments: a",
		},
		{
			name:       "too many",
			positional: []any{1, 2, 3},
			wantErr:    "takes 2 positional arguments but 3 were given",
		},
		{
			name:    "unexpected",
			named:   map[string]any{"a": 1, "z": 2},
			wantErr: "unexpected arguments: z",
		},
		{
			name:       "duplicated",
			positional: []any{1},
			named:      map[string]any{"a": 2},
			wantErr:    "multiple values for arguments: a",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bound, err := sig.Bind(tt.positional, tt.named)
			if tt.wantErr != "" {
				require.Error(t, err)
				var be *BindingError
				require.True(t, errors.As(err, &be))
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, bound.Values)
		})
	}
}

func TestBind_VariadicCollectsExtra(t *testing.T) {
	sig := New("a", "...rest")

	bound, err := sig.Bind([]any{1, 2, 3}, nil)
	require.NoError(t, err)

	assert.Equal(t, []any{2, 3}, bound.Values["rest"])
	assert.Equal(t, []any{1, 2, 3}, bound.Positional())
}

func TestBind_VariadicNotNamed(t *testing.T) {
	sig := New("a", "...rest")

	_, err := sig.Bind([]any{1}, map[string]any{"rest": 2})
	assert.Error(t, err)
}

func TestBound_PositionalOrder(t *testing.T) {
	sig := New("x", "y", "z")

	bound, err := sig.Bind([]any{1}, map[string]any{"z": 3, "y": 2})
	require.NoError(t, err)
	assert.Equal(t, []any{1, 2, 3}, bound.Positional())
}
