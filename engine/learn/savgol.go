package learn

import "gonum.org/v1/gonum/mat"

// Savitzky-Golay smoothing for the segmentation signals. Interior samples use
// the precomputed convolution of a centered window; the half-window samples at
// each edge are evaluated from a polynomial fit to the first/last window,
// which keeps the signal length unchanged.

// savgolFilter smooths xs with a Savitzky-Golay filter of the given odd window
// and polynomial order. Signals no longer than the window are returned as a
// copy.
func savgolFilter(xs []float64, window, order int) []float64 {
	n := len(xs)
	out := make([]float64, n)
	copy(out, xs)
	if n <= window || window%2 == 0 || order >= window {
		return out
	}
	half := window / 2

	coeffs := savgolCenterCoeffs(window, order)
	for i := half; i < n-half; i++ {
		v := 0.0
		for j := 0; j < window; j++ {
			v += coeffs[j] * xs[i-half+j]
		}
		out[i] = v
	}

	// Edge samples from polynomial fits over the boundary windows.
	headBeta := polyfit(xs[:window], order)
	tailBeta := polyfit(xs[n-window:], order)
	for i := 0; i < half; i++ {
		out[i] = polyval(headBeta, float64(i))
		out[n-1-i] = polyval(tailBeta, float64(window-1-i))
	}
	return out
}

// savgolCenterCoeffs returns the convolution weights that evaluate a
// least-squares polynomial fit of the window at its center sample.
func savgolCenterCoeffs(window, order int) []float64 {
	half := window / 2
	a := mat.NewDense(window, order+1, nil)
	for i := 0; i < window; i++ {
		x := float64(i - half)
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= x
		}
	}
	// coeffs = e0^T (A^T A)^-1 A^T, the first row of the pseudoinverse.
	var ata mat.Dense
	ata.Mul(a.T(), a)
	var inv mat.Dense
	if err := inv.Inverse(&ata); err != nil {
		// Degenerate fit; fall back to an identity pick of the center sample.
		coeffs := make([]float64, window)
		coeffs[half] = 1
		return coeffs
	}
	var pinv mat.Dense
	pinv.Mul(&inv, a.T())
	coeffs := make([]float64, window)
	for j := 0; j < window; j++ {
		coeffs[j] = pinv.At(0, j)
	}
	return coeffs
}

// polyfit fits a polynomial of the given order to ys sampled at x = 0..n-1
// and returns its coefficients, lowest order first.
func polyfit(ys []float64, order int) []float64 {
	n := len(ys)
	a := mat.NewDense(n, order+1, nil)
	for i := 0; i < n; i++ {
		p := 1.0
		for j := 0; j <= order; j++ {
			a.Set(i, j, p)
			p *= float64(i)
		}
	}
	b := mat.NewVecDense(n, append([]float64(nil), ys...))
	var qr mat.QR
	qr.Factorize(a)
	var beta mat.Dense
	if err := qr.SolveTo(&beta, false, b); err != nil {
		return []float64{ys[0]}
	}
	coeffs := make([]float64, order+1)
	for j := 0; j <= order; j++ {
		coeffs[j] = beta.At(j, 0)
	}
	return coeffs
}

func polyval(coeffs []float64, x float64) float64 {
	v, p := 0.0, 1.0
	for _, c := range coeffs {
		v += c * p
		p *= x
	}
	return v
}
