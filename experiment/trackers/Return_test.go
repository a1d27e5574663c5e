package trackers

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/gopets/experiment/tracker"
	ts "github.com/samuelfneumann/gopets/timestep"
)

// episode feeds tracker t an episode with the given rewards, one
// reward per step after the first timestep
func episode(t tracker.Tracker, rewards []float64) {
	obs := mat.NewVecDense(1, []float64{0})

	t.Track(ts.New(ts.First, 0, 1.0, obs, 0))
	for i, r := range rewards {
		stepType := ts.Mid
		if i == len(rewards)-1 {
			stepType = ts.Last
		}
		t.Track(ts.New(stepType, r, 1.0, obs, i+1))
	}
}

func TestReturnTracksEpisodes(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(filename)

	episode(r, []float64{1, 1, 1})
	episode(r, []float64{1, 0})

	returns := r.(*Return).Returns()
	assert.Equal(t, []float64{3, 1}, returns)
}

func TestReturnSaveRoundTrip(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.bin")
	r := NewReturn(filename)

	episode(r, []float64{1, 1})
	episode(r, []float64{1, 1, 1, 1})
	require.NoError(t, r.Save())

	loaded, err := tracker.LoadData(filename)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, loaded)
}

func TestReturnPanicsOnNonSequentialSteps(t *testing.T) {
	r := NewReturn(filepath.Join(t.TempDir(), "returns.bin"))
	obs := mat.NewVecDense(1, []float64{0})

	r.Track(ts.New(ts.First, 0, 1.0, obs, 0))
	assert.Panics(t, func() {
		r.Track(ts.New(ts.Mid, 1.0, 1.0, obs, 5))
	})
}

func TestReturnPlotSaves(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "returns.png")
	r := NewReturnPlot(filename)

	episode(r, []float64{1, 1, 1})
	episode(r, []float64{1})
	require.NoError(t, r.Save())

	assert.FileExists(t, filename)
}
