package render

// Limiter is a two-stage power limiter on 8-bit LED buffers:
//  1. per-LED white cap: scales (R,G,B) so R+G+B <= WhiteCap*765
//  2. global current budget: estimates current draw and scales the whole
//     frame down to stay under BudgetAmps
//
// Current is estimated as channel/255 * ChanMA per channel.
type Limiter struct {
	WhiteCap   float64 // fraction of full white, 0 or >= 1 disables
	ChanMA     float64 // mA per channel at full scale; WS2812 ~ 20
	BudgetAmps float64 // 0 disables the budget stage
	Knee       float64 // fraction of budget where soft limiting begins
}

// DefaultLimiter budgets a stock 8.5 A supply and leaves the white cap off.
func DefaultLimiter() Limiter {
	return Limiter{ChanMA: 20, BudgetAmps: 8.5, Knee: 0.9}
}

// EstimateAmps returns the estimated draw of rgb at chanMA per channel.
func EstimateAmps(rgb []byte, chanMA float64) float64 {
	var sum float64
	for _, v := range rgb {
		sum += float64(v)
	}
	return sum / 255.0 * chanMA / 1000.0
}

// Apply limits buf in place and reports whether anything was scaled.
func (l Limiter) Apply(buf []byte) bool {
	limited := false

	if l.WhiteCap > 0 && l.WhiteCap < 1 {
		limit := l.WhiteCap * 3 * 255
		for i := 0; i+2 < len(buf); i += 3 {
			s := float64(buf[i]) + float64(buf[i+1]) + float64(buf[i+2])
			if s > limit {
				k := limit / s
				buf[i] = byte(float64(buf[i]) * k)
				buf[i+1] = byte(float64(buf[i+1]) * k)
				buf[i+2] = byte(float64(buf[i+2]) * k)
				limited = true
			}
		}
	}

	if l.BudgetAmps <= 0 {
		return limited
	}
	chanMA := l.ChanMA
	if chanMA <= 0 {
		chanMA = 20
	}
	knee := l.Knee
	if knee <= 0 || knee >= 1 {
		knee = 0.9
	}
	total := EstimateAmps(buf, chanMA)
	if total <= 0 {
		return limited
	}
	ratio := total / l.BudgetAmps
	if ratio <= knee {
		return limited
	}
	var s float64
	if ratio <= 1 {
		// ease from 1 at the knee down to budget/total at the budget
		minS := l.BudgetAmps / total
		t := (ratio - knee) / (1 - knee)
		s = 1 - t*(1-minS)
	} else {
		s = l.BudgetAmps / total
	}
	return scale(buf, s) || limited
}

// scale multiplies every channel by s (truncating) and reports whether s < 1.
func scale(buf []byte, s float64) bool {
	if s >= 1 {
		return false
	}
	if s < 0 {
		s = 0
	}
	for i := range buf {
		buf[i] = byte(float64(buf[i]) * s)
	}
	return true
}
