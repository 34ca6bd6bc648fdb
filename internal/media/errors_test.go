package media

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/voxcut/voxcut/internal/models"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want models.ErrorKind
	}{
		{nil, ""},
		{ErrInvalidURL, models.ErrKindInvalidInput},
		{ErrInvalidSegment, models.ErrKindInvalidInput},
		{ErrNotFound, models.ErrKindInvalidInput},
		{ErrGeoBlocked, models.ErrKindInvalidInput},
		{ErrAgeRestricted, models.ErrKindInvalidInput},
		{ErrNoAudioTrack, models.ErrKindInvalidInput},
		{ErrEmptyTranscription, models.ErrKindInvalidInput},
		{ErrDiskSpace, models.ErrKindResourceExhausted},
		{ErrOutOfMemory, models.ErrKindResourceExhausted},
		{ErrDownload, models.ErrKindTransientNetwork},
		{ErrEncoding, models.ErrKindTransientNetwork},
		{context.Canceled, models.ErrKindCancelled},
		{fmt.Errorf("fetch: %w", ErrDiskSpace), models.ErrKindResourceExhausted},
		{errors.New("unknown"), models.ErrKindTransientNetwork},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ClassifyError(tt.err), "%v", tt.err)
	}
}
