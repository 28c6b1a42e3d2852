// Package testutil provides shared test helpers and recording fixtures.
package testutil

import (
	"embed"
	"math"
	"net/http"
	"net/http/httptest"
	"path"
	"testing"

	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/experiment"
	"github.com/RemiBardon/imt-fil-a1-acdc-projet-lapin-robot/internal/fsutil"
)

//go:embed testdata
var fixtures embed.FS

// Recording is the reference fixture: three channels over ten samples and
// four phases (preparation [0,1], ach [2,3], adrenaline [4,6] and
// ocytocine [7,9]) with runs of invalid samples in every channel.
const Recording = "recording.txt"

// Channels of Recording, in column order.
const (
	Pressure   experiment.Measure = "Pression Arterielle"
	Spirometry experiment.Measure = "Spirometrie"
	HeartRate  experiment.Measure = "Frequence Cardiaque"
)

// NaN is the invalid sample value.
var NaN = math.NaN()

// Fixture returns the content of a file under testdata.
func Fixture(t testing.TB, name string) []byte {
	t.Helper()
	data, err := fixtures.ReadFile(path.Join("testdata", name))
	if err != nil {
		t.Fatalf("read fixture %s: %v", name, err)
	}
	return data
}

// MemFS returns an in-memory file system holding the named fixtures at their
// own name.
func MemFS(t testing.TB, names ...string) *fsutil.MemoryFileSystem {
	t.Helper()
	fsys := fsutil.NewMemoryFileSystem()
	for _, name := range names {
		if err := fsys.WriteFile(name, Fixture(t, name), 0o644); err != nil {
			t.Fatalf("write fixture %s: %v", name, err)
		}
	}
	return fsys
}

// Series builds points at timestamps 0, 1, 2, ... holding values.
func Series(values ...float64) []experiment.DataPoint {
	points := make([]experiment.DataPoint, len(values))
	for i, v := range values {
		points[i] = experiment.DataPoint{Timestamp: float64(i), Value: v}
	}
	return points
}

// AssertStatusCode checks that the response status code matches expected.
func AssertStatusCode(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("status code = %d, want %d", got, want)
	}
}

// NewTestRequest creates a test HTTP request.
func NewTestRequest(method, target string) *http.Request {
	return httptest.NewRequest(method, target, nil)
}

// NewTestRecorder creates a test response recorder.
func NewTestRecorder() *httptest.ResponseRecorder {
	return httptest.NewRecorder()
}
