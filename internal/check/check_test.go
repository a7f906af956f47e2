package check

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEqual(t *testing.T) {
	assert.NoError(t, Equal("height", int64(1), int64(1)))

	err := Equal("height", int64(1), int64(2))
	assert.True(t, IsFailure(err))
	assert.EqualError(t, err, "height: expected 1, got 2")

	// different dynamic types never compare equal
	assert.Error(t, Equal("count", 10, int64(10)))

	wrapped := fmt.Errorf("case blocks: %w", Equal("hash", "a", "b"))
	assert.True(t, IsFailure(wrapped))
	assert.False(t, IsFailure(fmt.Errorf("plain")))

	assert.EqualError(t, Failf("no output pays %s", "addr"), "no output pays addr")
}

func TestDiff(t *testing.T) {
	assert.NoError(t, Diff("hashes", []string{"a", "b"}, []string{"a", "b"}))

	err := Diff("hashes", []string{"a", "b"}, []string{"a", "c"})
	assert.True(t, IsFailure(err))
	assert.True(t, strings.HasPrefix(err.Error(), "hashes mismatch (-expected +got):"), err.Error())
	assert.Contains(t, err.Error(), `"b"`)
	assert.Contains(t, err.Error(), `"c"`)
}
