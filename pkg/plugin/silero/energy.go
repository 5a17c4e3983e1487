package silero

import "math"

const (
	// level mapping: -50 dBFS scores 0, -20 dBFS scores 1
	energyFloorDB = -50.0
	energySpanDB  = 30.0
)

// energyScorer approximates a speech probability from window loudness.
type energyScorer struct{}

func (energyScorer) score(window []float32) (float64, error) {
	if len(window) == 0 {
		return 0, nil
	}
	var sum float64
	for _, s := range window {
		sum += float64(s) * float64(s)
	}
	rms := math.Sqrt(sum / float64(len(window)))
	if rms == 0 {
		return 0, nil
	}
	db := 20 * math.Log10(rms)
	return min(max((db-energyFloorDB)/energySpanDB, 0), 1), nil
}

func (energyScorer) close() {}
