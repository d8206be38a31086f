package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithContextAddsRequestFields(t *testing.T) {
	var buf bytes.Buffer
	l := New("fitjourney", "info", "json")
	l.SetOutput(&buf)

	ctx := WithTraceID(context.Background(), "trace-1")
	ctx = WithUser(ctx, "user-7", "MEMBER")
	l.LogRequest(ctx, "POST", "/member/classes/book", 409, 12*time.Millisecond)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "fitjourney", line["service"])
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "user-7", line["user_id"])
	assert.Equal(t, "MEMBER", line["role"])
	assert.EqualValues(t, 409, line["status"])
}

func TestNewFallsBackToInfo(t *testing.T) {
	l := New("svc", "loud", "text")
	assert.Equal(t, "info", l.GetLevel().String())
}
