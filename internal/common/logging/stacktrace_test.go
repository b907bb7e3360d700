package logging

import (
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestWithStacktrace_AddsStackForPkgErrors(t *testing.T) {
	entry := WithStacktrace(logrus.NewEntry(logrus.New()), errors.New("boom"))
	assert.Contains(t, entry.Data, Stacktrace)
	assert.Contains(t, entry.Data, logrus.ErrorKey)
}

func TestWithStacktrace_NoStackForPlainErrors(t *testing.T) {
	entry := WithStacktrace(logrus.NewEntry(logrus.New()), fmt.Errorf("boom"))
	assert.NotContains(t, entry.Data, Stacktrace)
	assert.Contains(t, entry.Data, logrus.ErrorKey)
}

func TestExtractStack_FollowsWrapping(t *testing.T) {
	inner := errors.New("inner")
	assert.NotNil(t, ExtractStack(errors.WithMessage(inner, "outer")))
	assert.NotNil(t, ExtractStack(fmt.Errorf("outer: %w", inner)))
	assert.Nil(t, ExtractStack(fmt.Errorf("plain")))
}

func TestWithCorrelationId(t *testing.T) {
	entry := WithCorrelationId(logrus.NewEntry(logrus.New()), "abc-123")
	assert.Equal(t, "abc-123", entry.Data[CorrelationId])
}
