package uploader

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducnh/coursereel/http/controller/dto"
)

func TestControlPlaneConflictIsNotOffsetConflict(t *testing.T) {
	api := newFakeAPI(t)
	api.finalizeAnswer = http.StatusConflict

	_, err := api.client().FinalizeCourse(context.Background(), dto.FinalizeCourseRequest{
		BatchID: "batch-x",
		Title:   "Colliding Course",
	})
	require.Error(t, err)

	// A 409 outside the resumable offset protocol is an ordinary API error,
	// never the discard-all-state sentinel.
	assert.False(t, errors.Is(err, ErrOffsetConflict))

	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusConflict, ae.StatusCode)
}

func TestControlPlaneTooLargeIsNotFallbackSignal(t *testing.T) {
	api := newFakeAPI(t)
	api.finalizeAnswer = http.StatusRequestEntityTooLarge

	_, err := api.client().FinalizeCourse(context.Background(), dto.FinalizeCourseRequest{
		BatchID: "batch-y",
		Title:   "Oversized Body",
	})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrPayloadTooLarge))
}

func TestCreateResumableKeepsTooLargeSentinel(t *testing.T) {
	api := newFakeAPI(t)

	_, err := api.client().CreateResumable(context.Background(), dto.CreateResumableRequest{
		FileName: "huge.mp4",
		FileSize: api.resumableMax + 1,
	})
	assert.ErrorIs(t, err, ErrPayloadTooLarge)
}
