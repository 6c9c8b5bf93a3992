package returns

import "math"

// cashFlow is one external flow, expressed as a day offset from the period
// start and a signed amount (inflow positive).
type cashFlow struct {
	days   int
	amount float64
}

const (
	xirrTolerance   = 1e-7
	xirrMaxIters    = 100
	xirrInitialRate = 0.1
)

// xirr solves V_start*(1+r)^(T/365) + sum CF_i*(1+r)^((T-t_i)/365) = V_end
// for r by Newton-Raphson with an analytic derivative. Returns false on
// non-convergence, including the singularity at r = -1.
func xirr(startValue, endValue float64, totalDays int, flows []cashFlow) (float64, bool) {
	if totalDays <= 0 {
		return 0, false
	}

	t := float64(totalDays)
	f := func(r float64) (float64, float64) {
		base := 1 + r
		value := startValue*math.Pow(base, t/365) - endValue
		deriv := startValue * (t / 365) * math.Pow(base, t/365-1)
		for _, cf := range flows {
			exp := float64(totalDays-cf.days) / 365
			value += cf.amount * math.Pow(base, exp)
			deriv += cf.amount * exp * math.Pow(base, exp-1)
		}
		return value, deriv
	}

	r := xirrInitialRate
	for i := 0; i < xirrMaxIters; i++ {
		value, deriv := f(r)
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return 0, false
		}
		if math.Abs(value) < xirrTolerance {
			return r, true
		}
		if deriv == 0 || math.IsNaN(deriv) || math.IsInf(deriv, 0) {
			return 0, false
		}
		r -= value / deriv
		if r <= -1 {
			// Step past the singularity; clamp just above it so the next
			// evaluation stays defined.
			r = -1 + 1e-10
		}
	}
	return 0, false
}
