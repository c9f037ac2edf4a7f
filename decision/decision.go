// Package decision maps frame statistics and network outputs to a presence flag.
package decision

// DefaultMargin rejects sensor noise between consecutive frames.
const DefaultMargin = 5

// InitialMean is the previous mean before the first frame, the brightest possible value,
// so the first frame never reports presence.
const InitialMean = 255

// Hysteresis reports presence when a frame is brighter than the previous one by at
// least Margin. The previous mean is replaced after every decision.
type Hysteresis struct {
	Margin   uint32
	previous uint32
}

func NewHysteresis(margin uint32) *Hysteresis {
	return &Hysteresis{Margin: margin, previous: InitialMean}
}

func (h *Hysteresis) Previous() uint32 {
	return h.previous
}

// Seed overrides the carried-over mean.
func (h *Hysteresis) Seed(previous uint32) {
	h.previous = previous
}

func (h *Hysteresis) Decide(current uint32) bool {
	present := current >= h.previous+h.Margin
	h.previous = current
	return present
}

// Threshold maps a required confidence fraction onto the int8 score scale.
func Threshold(confidence float64) float64 {
	return 256*confidence - 128
}

// Score is the mean of every signed 8-bit lane in words, least significant lane first.
func Score(words []uint32) float64 {
	if len(words) == 0 {
		return 0
	}
	var sum float64
	for _, w := range words {
		sum += float64(int8(w))
		sum += float64(int8(w >> 8))
		sum += float64(int8(w >> 16))
		sum += float64(int8(w >> 24))
	}
	return sum / float64(len(words)*4)
}

// Inference decides presence from a network output vector. The model was trained with
// -1 for empty scenes and +1 for people.
type Inference struct {
	Confidence float64
}

func (i Inference) Threshold() float64 {
	return Threshold(i.Confidence)
}

func (i Inference) DecideScore(score float64) bool {
	return score > i.Threshold()
}

func (i Inference) Decide(words []uint32) (bool, float64) {
	score := Score(words)
	return i.DecideScore(score), score
}
