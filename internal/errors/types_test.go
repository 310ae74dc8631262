package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPipelineErrorFormatting(t *testing.T) {
	tests := []struct {
		name     string
		err      *PipelineError
		expected string
	}{
		{
			name:     "transform error",
			err:      NewTransformError("sass", "src/app.scss", errors.New("exit status 1")),
			expected: "[ERR_TRANSFORM_FAILED] transform:sass src/app.scss transform failed: exit status 1",
		},
		{
			name:     "optimization error",
			err:      NewOptimizationError("index", "index.js", errors.New("bad token")),
			expected: "[ERR_OPTIMIZE_FAILED] chunk:index index.js optimization failed: bad token",
		},
		{
			name:     "config error with line",
			err:      NewConfigError(ErrCodeInvalidPattern, "bad pattern").WithPath(".assetforge.yml").WithLine(4),
			expected: "[ERR_INVALID_PATTERN] .assetforge.yml:4 bad pattern",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.err.Error())
		})
	}
}

func TestErrorCategories(t *testing.T) {
	cause := errors.New("boom")
	wrapped := fmt.Errorf("building: %w", NewResolutionError("src/index.js", "./missing", cause))

	assert.True(t, IsResolutionError(wrapped))
	assert.False(t, IsTransformError(wrapped))
	assert.ErrorIs(t, wrapped, cause)

	pe, ok := AsPipelineError(wrapped)
	require.True(t, ok)
	assert.True(t, pe.Fatal())
	assert.False(t, NewOptimizationError("a", "a.js", cause).Fatal())
}

func TestPipelineErrorIs(t *testing.T) {
	a := NewConfigError(ErrCodeRuleConflict, "one")
	b := NewConfigError(ErrCodeRuleConflict, "two")
	c := NewConfigError(ErrCodeInvalidPattern, "three")

	assert.True(t, errors.Is(a, b))
	assert.False(t, errors.Is(a, c))
}

func TestCollector(t *testing.T) {
	c := NewCollector()
	assert.False(t, c.HasErrors())
	assert.NoError(t, c.Err())

	c.Add(nil)
	c.Add(NewTransformError("css", "a.css", errors.New("x")))
	assert.True(t, c.HasErrors())
	assert.True(t, IsTransformError(c.Err()))

	c.Add(NewOptimizationError("index", "index.css", errors.New("y")))
	err := c.Err()
	var multi *MultiError
	require.ErrorAs(t, err, &multi)
	assert.Len(t, multi.Errs, 2)
	assert.True(t, IsOptimizationError(err))
	assert.Len(t, Flatten(err), 2)
}

func TestFlattenWrapsForeignErrors(t *testing.T) {
	flat := Flatten(errors.New("plain"))
	require.Len(t, flat, 1)
	assert.Equal(t, ErrorTypeInternal, flat[0].Type)
	assert.Nil(t, Flatten(nil))
}
