package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/assert"

	"github.com/covenantmedia/pulpit/internal/core"
)

func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusBadRequest, core.ErrFatal},
		{http.StatusUnauthorized, core.ErrFatal},
		{http.StatusForbidden, core.ErrFatal},
		{http.StatusNotFound, core.ErrFatal},
		{http.StatusUnprocessableEntity, core.ErrFatal},
		{http.StatusTooManyRequests, core.ErrFatal},
		{http.StatusRequestTimeout, core.ErrRetryable},
		{http.StatusInternalServerError, core.ErrRetryable},
		{http.StatusBadGateway, core.ErrRetryable},
		{http.StatusServiceUnavailable, core.ErrRetryable},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("status %d", tc.status), func(t *testing.T) {
			assert.ErrorIs(t, classifyStatus(tc.status), tc.want)
		})
	}
}

func TestClassify(t *testing.T) {
	t.Run("api error uses status", func(t *testing.T) {
		err := classify(&openai.Error{StatusCode: http.StatusServiceUnavailable})
		assert.ErrorIs(t, err, core.ErrRetryable)

		err = classify(&openai.Error{StatusCode: http.StatusTooManyRequests})
		assert.ErrorIs(t, err, core.ErrFatal)
	})

	t.Run("deadline is retryable", func(t *testing.T) {
		err := classify(fmt.Errorf("request: %w", context.DeadlineExceeded))
		assert.ErrorIs(t, err, core.ErrRetryable)
	})

	t.Run("transport trouble is retryable", func(t *testing.T) {
		err := classify(errors.New("dial tcp: connection refused"))
		assert.ErrorIs(t, err, core.ErrRetryable)
	})
}
