package forecast

import (
	"sync"

	"github.com/trafficwatch/trafficwatch/pkg/ci"
	"github.com/trafficwatch/trafficwatch/pkg/history"
	"github.com/trafficwatch/trafficwatch/pkg/logx"
)

// Auto selects Regression when trained models are present and Statistical
// otherwise. Selection happens once per process; a per-call Regression error
// still falls back to Statistical so forecasting never hard-fails.
type Auto struct {
	regression  *Regression
	statistical *Statistical
	logger      *logx.Logger

	selectOnce sync.Once
	selected   Strategy
}

// NewAuto creates the automatic strategy selector
func NewAuto(reg *Regression, stat *Statistical, logger *logx.Logger) *Auto {
	return &Auto{
		regression:  reg,
		statistical: stat,
		logger:      logger,
	}
}

// Name reports which underlying strategy was selected
func (a *Auto) Name() string {
	return a.pick().Name()
}

// Available always reports true; Statistical backs every path
func (a *Auto) Available() bool { return true }

func (a *Auto) pick() Strategy {
	a.selectOnce.Do(func() {
		if a.regression != nil && a.regression.Available() {
			a.selected = a.regression
			a.logger.Info("forecast strategy selected", "strategy", a.regression.Name())
			return
		}
		a.selected = a.statistical
		a.logger.Info("forecast strategy selected", "strategy", a.statistical.Name())
	})
	return a.selected
}

// Generate produces a vector with the selected strategy, falling back to
// Statistical camera-by-camera when the primary strategy errors.
func (a *Auto) Generate(cameraID string, state ci.CIState, hist *history.Store) (Vector, error) {
	primary := a.pick()
	vector, err := primary.Generate(cameraID, state, hist)
	if err == nil {
		return vector, nil
	}

	if primary != Strategy(a.statistical) {
		a.logger.Warn("primary forecast failed, using statistical fallback",
			"camera_id", cameraID, "strategy", primary.Name(), "error", err.Error())
		return a.statistical.Generate(cameraID, state, hist)
	}
	return vector, err
}
