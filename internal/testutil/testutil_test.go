package testutil

import (
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixture(t *testing.T) {
	t.Parallel()

	data := Fixture(t, Recording)
	assert.Contains(t, string(data), "Pression Arterielle")

	f, err := MemFS(t, Recording).Open(Recording)
	require.NoError(t, err)
	defer f.Close()
	got, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestSeries(t *testing.T) {
	t.Parallel()

	points := Series(1, NaN, 3)
	require.Len(t, points, 3)
	assert.Equal(t, 2.0, points[2].Timestamp)
	assert.False(t, points[1].IsValid())
}

func TestHTTPHelpers(t *testing.T) {
	t.Parallel()

	req := NewTestRequest(http.MethodGet, "/api/channels")
	assert.Equal(t, http.MethodGet, req.Method)
	assert.Equal(t, "/api/channels", req.URL.Path)

	rec := NewTestRecorder()
	rec.WriteHeader(http.StatusTeapot)
	AssertStatusCode(t, rec.Code, http.StatusTeapot)
}
