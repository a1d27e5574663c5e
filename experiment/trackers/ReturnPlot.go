package trackers

import (
	"fmt"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/samuelfneumann/gopets/experiment/tracker"
	ts "github.com/samuelfneumann/gopets/timestep"
)

// ReturnPlot tracks the episodic return in an experiment and saves a
// plot of return against episode number
type ReturnPlot struct {
	lastTimeStep  int
	currentReturn float64
	returns       []float64
	filename      string
}

// NewReturnPlot creates and returns a new *ReturnPlot Tracker which
// saves its plot to filename. The file extension determines the image
// format.
func NewReturnPlot(filename string) tracker.Tracker {
	var r ReturnPlot
	r.lastTimeStep = -1
	r.filename = filename
	return &r
}

// Track tracks the rewards seen on a timestep.
//
// Track panics if it is called for non-sequential timesteps
func (r *ReturnPlot) Track(step ts.TimeStep) {
	if r.lastTimeStep+1 != step.Number {
		msg := fmt.Sprintf("track: last two timesteps tracked are not "+
			"sequential: timestep %v --> timestep %v were tracked",
			r.lastTimeStep, step.Number)
		panic(msg)
	}

	r.currentReturn += step.Reward
	if !step.Last() {
		r.lastTimeStep = step.Number
	} else {
		r.returns = append(r.returns, r.currentReturn)
		r.currentReturn = 0.0
		r.lastTimeStep = -1
	}
}

// Save renders and saves the plot of episodic return against episode
// number
func (r *ReturnPlot) Save() error {
	p := plot.New()
	p.Title.Text = "Episodic Return"
	p.X.Label.Text = "Episode"
	p.Y.Label.Text = "Return"

	points := make(plotter.XYs, len(r.returns))
	for i, ret := range r.returns {
		points[i].X = float64(i)
		points[i].Y = ret
	}

	line, err := plotter.NewLine(points)
	if err != nil {
		return fmt.Errorf("save: could not plot returns: %v", err)
	}
	p.Add(line)

	if err := p.Save(6*vg.Inch, 4*vg.Inch, r.filename); err != nil {
		return fmt.Errorf("save: could not save plot: %v", err)
	}
	return nil
}
