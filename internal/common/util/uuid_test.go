package util

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewULID_Monotonic(t *testing.T) {
	first := NewULID()
	second := NewULID()
	assert.Len(t, first, 26)
	assert.Equal(t, first, regexp.MustCompile("[^0-9a-z]").ReplaceAllString(first, ""))
	assert.Less(t, first, second)
}

func TestNewIdentifierSuffix(t *testing.T) {
	suffix := NewIdentifierSuffix()
	assert.Regexp(t, "^[0-9a-f]{32}$", suffix)
	assert.NotEqual(t, suffix, NewIdentifierSuffix())
}
