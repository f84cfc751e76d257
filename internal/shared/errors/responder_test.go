package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBusy = errors.New("busy")

func respond(t *testing.T, r *Responder, err error) (int, ProblemDetail) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	c.Request = httptest.NewRequest(http.MethodPost, "/api/v1/sync/parts_price", nil)
	r.RespondError(c, err)

	assert.Equal(t, ContentTypeProblemJSON, rec.Header().Get("Content-Type"))
	var problem ProblemDetail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	return rec.Code, problem
}

func TestResponder_MapperWins(t *testing.T) {
	r := NewChainedResponder("", func(err error) (ProblemDetail, bool) {
		if errors.Is(err, errBusy) {
			return ErrConflict.WithDetail(err.Error()), true
		}
		return ProblemDetail{}, false
	})

	code, problem := respond(t, r, fmt.Errorf("parts_price: %w", errBusy))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, TypeConflict, problem.Type)
	assert.Equal(t, "/api/v1/sync/parts_price", problem.Instance)
}

func TestResponder_Fallbacks(t *testing.T) {
	r := NewChainedResponder("https://errors.example")

	code, problem := respond(t, r, ErrUnavailable.WithDetail("erp down"))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "https://errors.example"+TypeUnavailable, problem.Type)

	code, problem = respond(t, r, fmt.Errorf("fetch: %w", context.DeadlineExceeded))
	assert.Equal(t, http.StatusGatewayTimeout, code)
	assert.Equal(t, "https://errors.example"+TypeTimeout, problem.Type)

	code, _ = respond(t, r, errors.New("boom"))
	assert.Equal(t, http.StatusInternalServerError, code)
}

func TestHTTPStatusFromError(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, HTTPStatusFromError(ErrNotFound))
	assert.Equal(t, http.StatusInternalServerError, HTTPStatusFromError(errors.New("x")))
}

func TestProblemDetail_Error(t *testing.T) {
	assert.Equal(t, "Conflict", ErrConflict.Error())
	assert.Equal(t, "Conflict: cycle in progress", ErrConflict.WithDetail("cycle in progress").Error())
	p := NewValidationProblem(map[string]string{"day": "must be YYYY-MM-DD"})
	assert.Equal(t, map[string]string{"day": "must be YYYY-MM-DD"}, p.Extensions["fields"])
}
