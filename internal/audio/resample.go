package audio

// Resample converts normalized samples from inRate to outRate using linear
// interpolation. The output holds floor(len(in)*outRate/inRate) samples.
// Equal rates yield a copy of the input. Non-positive rates yield an empty
// slice. The input is never modified.
func Resample(in []float64, inRate, outRate int) []float64 {
	if inRate <= 0 || outRate <= 0 || len(in) == 0 {
		return []float64{}
	}
	if inRate == outRate {
		out := make([]float64, len(in))
		copy(out, in)
		return out
	}

	n := int(int64(len(in)) * int64(outRate) / int64(inRate))
	out := make([]float64, n)
	step := float64(inRate) / float64(outRate)

	for i := 0; i < n; i++ {
		p := float64(i) * step
		idx := int(p)
		if idx >= len(in) {
			idx = len(in) - 1
		}
		frac := p - float64(idx)
		if idx+1 < len(in) {
			out[i] = in[idx]*(1-frac) + in[idx+1]*frac
		} else {
			out[i] = in[idx]
		}
	}

	return out
}

// FrameSize returns the byte size of one mono PCM16 frame lasting frameMs at rate.
func FrameSize(rate, frameMs int) int {
	return rate * frameMs / 1000 * 2
}
