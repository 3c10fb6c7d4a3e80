package queue

import (
	"context"
	"errors"
	"testing"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ad-tracker/video-aggregator-go/internal/classify"
)

type MockClassifier struct {
	mock.Mock
}

func (m *MockClassifier) ClassifyVideos(ctx context.Context, ids []int64) (*classify.Result, error) {
	args := m.Called(ctx, ids)
	if r, ok := args.Get(0).(*classify.Result); ok {
		return r, args.Error(1)
	}
	return nil, args.Error(1)
}

func newTask(t *testing.T, ids ...int64) *asynq.Task {
	t.Helper()
	p, err := NewClassifyVideosPayload(ids, "test")
	require.NoError(t, err)
	b, err := p.Marshal()
	require.NoError(t, err)
	return asynq.NewTask(TypeClassifyVideos, b)
}

func TestClassificationHandler_ProcessTask(t *testing.T) {
	tests := []struct {
		name      string
		result    *classify.Result
		err       error
		wantError bool
	}{
		{
			name:   "all classified",
			result: &classify.Result{Requested: 2, Classified: 2},
		},
		{
			name:   "partial failure is not retried",
			result: &classify.Result{Requested: 2, Classified: 1, Failed: 1},
		},
		{
			name:      "everything failed",
			result:    &classify.Result{Requested: 2, Failed: 2},
			wantError: true,
		},
		{
			name:      "pass error",
			err:       errors.New("db down"),
			wantError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classifier := new(MockClassifier)
			classifier.On("ClassifyVideos", mock.Anything, []int64{3, 7}).Return(tt.result, tt.err)

			err := NewClassificationHandler(classifier).ProcessTask(context.Background(), newTask(t, 3, 7))
			if tt.wantError {
				assert.Error(t, err)
				assert.False(t, errors.Is(err, asynq.SkipRetry))
			} else {
				assert.NoError(t, err)
			}
			classifier.AssertExpectations(t)
		})
	}
}

func TestClassificationHandler_BadPayloadSkipsRetry(t *testing.T) {
	classifier := new(MockClassifier)

	err := NewClassificationHandler(classifier).
		ProcessTask(context.Background(), asynq.NewTask(TypeClassifyVideos, []byte("garbage")))

	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))
	classifier.AssertNotCalled(t, "ClassifyVideos", mock.Anything, mock.Anything)
}
