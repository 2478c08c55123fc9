package native

import (
	"errors"
	"math"
)

// Log-probability constants of the goodness-of-pronunciation scorer.
const (
	negInf = -1e9

	// missedLogProb is assigned to a phoneme the alignment gave no frames.
	missedLogProb = -10.0

	// goodLogProb is the acceptance threshold for a single phoneme.
	goodLogProb = -2.5

	// phonemes at or below floorLogProb are left out of the word mean.
	floorLogProb = -9.0
)

var (
	errNoTargets       = errors.New("no phoneme of the target text is known to the model")
	errNoFrames        = errors.New("acoustic model produced no frames")
	errAlignmentBroken = errors.New("alignment broken: audio does not match text")
)

// Matrix is a row-major frames × vocab matrix of log-probabilities.
type Matrix struct {
	Frames int
	Vocab  int
	Data   []float32
}

// At returns the value at frame t, class v.
func (m Matrix) At(t, v int) float32 { return m.Data[t*m.Vocab+v] }

// logSoftmax converts logits to log-probabilities in place, row by row.
func logSoftmax(m Matrix) {
	for t := range m.Frames {
		row := m.Data[t*m.Vocab : (t+1)*m.Vocab]
		peak := float32(math.Inf(-1))
		for _, x := range row {
			peak = max(peak, x)
		}
		var sum float64
		for _, x := range row {
			sum += math.Exp(float64(x - peak))
		}
		lse := peak + float32(math.Log(sum))
		for i := range row {
			row[i] -= lse
		}
	}
}

// target is one phoneme of the flattened utterance.
type target struct {
	word, token int
	ipa         string
}

// segment is the aligned span of one target.
type segment struct {
	target
	start, end int // frames, inclusive; -1 when the phoneme was skipped
	logProb    float64
}

// align runs CTC Viterbi forced alignment of targets over lp and returns each
// target's mean log-probability across the frames assigned to it.
//
// The state graph interleaves blanks with targets: blank, t1, blank, t2, …,
// blank. A state is reached by staying, advancing one state, or skipping an
// intermediate blank into a target that differs from the one before it. The
// path must end on the final blank or the final target.
func align(lp Matrix, targets []target, blank int) ([]segment, error) {
	if len(targets) == 0 {
		return nil, errNoTargets
	}
	T := lp.Frames
	if T == 0 {
		return nil, errNoFrames
	}

	states := make([]int, 0, 2*len(targets)+1)
	for _, tg := range targets {
		states = append(states, blank, tg.token)
	}
	states = append(states, blank)
	S := len(states)

	dp := make([]float64, T*S)
	back := make([]int32, T*S)
	for i := range dp {
		dp[i] = negInf
		back[i] = -1
	}
	dp[0] = float64(lp.At(0, states[0]))
	dp[1] = float64(lp.At(0, states[1]))

	for t := 1; t < T; t++ {
		prev := dp[(t-1)*S : t*S]
		cur := dp[t*S : (t+1)*S]
		bk := back[t*S : (t+1)*S]
		for s := range S {
			best, from := negInf, -1
			if prev[s] > best {
				best, from = prev[s], s
			}
			if s > 0 && prev[s-1] > best {
				best, from = prev[s-1], s-1
			}
			if s > 1 && states[s] != blank && states[s-1] == blank && states[s-2] != states[s] && prev[s-2] > best {
				best, from = prev[s-2], s-2
			}
			if from >= 0 {
				cur[s] = best + float64(lp.At(t, states[s]))
				bk[s] = int32(from)
			}
		}
	}

	last := dp[(T-1)*S:]
	s := S - 2
	if last[S-1] > last[S-2] {
		s = S - 1
	}
	if last[s] <= negInf {
		return nil, errAlignmentBroken
	}

	path := make([]int, T)
	for t := T - 1; t >= 0; t-- {
		path[t] = s
		s = int(back[t*S+s])
	}

	segs := make([]segment, len(targets))
	for i, tg := range targets {
		state := 2*i + 1
		seg := segment{target: tg, start: -1, end: -1, logProb: missedLogProb}
		var sum float64
		var n int
		for t, ps := range path {
			if ps != state {
				continue
			}
			if seg.start < 0 {
				seg.start = t
			}
			seg.end = t
			sum += float64(lp.At(t, tg.token))
			n++
		}
		if n > 0 {
			seg.logProb = sum / float64(n)
		}
		segs[i] = seg
	}
	return segs, nil
}
