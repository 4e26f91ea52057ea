package stages

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewError_NilCause(t *testing.T) {
	err := NewError(KindIOFailure, "write", "/tmp/out.nii", nil)
	require.NotNil(t, err.Err)
	assert.Contains(t, err.Error(), "io_failure")
}

func TestError_Format(t *testing.T) {
	withPath := NewError(KindNotFound, "load", "/data/scan.nii", errors.New("no such file"))
	assert.Equal(t, "load /data/scan.nii: no such file", withPath.Error())

	noPath := NewError(KindValidationFailure, "validate", "", errors.New("volume is empty"))
	assert.Equal(t, "validate: volume is empty", noPath.Error())
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(KindIOFailure, "write", "/tmp/out.nii", cause)
	assert.ErrorIs(t, err, cause)
}

func TestKindOf(t *testing.T) {
	direct := NewError(KindUnsupportedFormat, "load", "scan.txt", nil)
	assert.Equal(t, KindUnsupportedFormat, KindOf(direct))

	// Kind survives wrapping
	wrapped := fmt.Errorf("pipeline: %w", direct)
	assert.Equal(t, KindUnsupportedFormat, KindOf(wrapped))

	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}
