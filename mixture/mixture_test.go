package mixture

import (
	"math"
	"testing"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"

	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
	"github.com/LegendTianjin/handwriting-synthesis/utils"
)

// Brute-force reference: sum component densities in probability space, then
// take the log. Only valid at moderate scales, which is the point of the test.
func refLogProb(m *BivariateMixture, x *mat.Dense, row int) float64 {
	sum := 0.0
	x1, x2 := x.At(row, 0), x.At(row, 1)
	for j := 0; j < m.Components(); j++ {
		mu1, mu2 := m.Mu1.At(row, j), m.Mu2.At(row, j)
		s1, s2 := m.Sigma1.At(row, j), m.Sigma2.At(row, j)
		rho := m.Rho.At(row, j)
		t1 := (x1 - mu1) / s1
		t2 := (x2 - mu2) / s2
		z := t1*t1 + t2*t2 - 2*rho*t1*t2
		omr2 := 1 - rho*rho
		n := math.Exp(-z/(2*omr2)) / (2 * math.Pi * s1 * s2 * math.Sqrt(omr2))
		sum += math.Exp(m.LogPi.At(row, j)) * n
	}
	return math.Log(sum)
}

func buildMixture(t *testing.T, rows, k int, seed uint64) *BivariateMixture {
	t.Helper()
	rng := xrand.New(xrand.NewSource(seed))
	logits := mat.NewDense(rows, k, nil)
	mu1 := mat.NewDense(rows, k, nil)
	mu2 := mat.NewDense(rows, k, nil)
	s1 := mat.NewDense(rows, k, nil)
	s2 := mat.NewDense(rows, k, nil)
	rho := mat.NewDense(rows, k, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < k; j++ {
			logits.Set(i, j, rng.NormFloat64())
			mu1.Set(i, j, rng.NormFloat64())
			mu2.Set(i, j, rng.NormFloat64())
			s1.Set(i, j, 0.5+rng.Float64())
			s2.Set(i, j, 0.5+rng.Float64())
			rho.Set(i, j, 1.8*rng.Float64()-0.9)
		}
	}
	m, err := New(utils.LogSoftmaxRows(logits), mu1, mu2, s1, s2, rho)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestLogProbMatchesBruteForce(t *testing.T) {
	rows, k := 6, 4
	m := buildMixture(t, rows, k, 42)
	rng := xrand.New(xrand.NewSource(7))
	x := mat.NewDense(rows, 2, nil)
	for i := 0; i < rows; i++ {
		x.Set(i, 0, rng.NormFloat64())
		x.Set(i, 1, rng.NormFloat64())
	}

	lp, err := m.LogProb(x)
	if err != nil {
		t.Fatalf("LogProb: %v", err)
	}
	for i := 0; i < rows; i++ {
		got := lp.AtVec(i)
		want := refLogProb(m, x, i)
		if math.IsNaN(got) || math.IsInf(got, 0) {
			t.Fatalf("row %d: log prob not finite: %g", i, got)
		}
		if math.Abs(got-want) > 1e-9 {
			t.Fatalf("row %d: log prob mismatch: got=%.12g want=%.12g", i, got, want)
		}
	}
}

func TestLogProbExtremeParamsStaysFinite(t *testing.T) {
	logPi := utils.LogSoftmaxRows(mat.NewDense(1, 2, []float64{0, 0}))
	mu1 := mat.NewDense(1, 2, []float64{0, 1})
	mu2 := mat.NewDense(1, 2, []float64{0, -1})
	s1 := mat.NewDense(1, 2, []float64{1e-8, 1})
	s2 := mat.NewDense(1, 2, []float64{1e-8, 1})
	rho := mat.NewDense(1, 2, []float64{0.999, -0.999})
	m, err := New(logPi, mu1, mu2, s1, s2, rho)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	x := mat.NewDense(1, 2, []float64{3, -2})
	lp, err := m.LogProb(x)
	if err != nil {
		t.Fatalf("LogProb: %v", err)
	}
	if v := lp.AtVec(0); math.IsNaN(v) || math.IsInf(v, 0) {
		t.Fatalf("log prob not finite under extreme params: %g", v)
	}
}

func TestLogSoftmaxWeightsSumToOne(t *testing.T) {
	rng := xrand.New(xrand.NewSource(3))
	rows, k := 5, 7
	logits := mat.NewDense(rows, k, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < k; j++ {
			logits.Set(i, j, 10*rng.NormFloat64())
		}
	}
	logPi := utils.LogSoftmaxRows(logits)
	for i := 0; i < rows; i++ {
		sum := 0.0
		for j := 0; j < k; j++ {
			sum += math.Exp(logPi.At(i, j))
		}
		if math.Abs(sum-1) > 1e-12 {
			t.Fatalf("row %d: weights sum to %.15g, want 1", i, sum)
		}
	}
}

func TestNewRejectsBadParams(t *testing.T) {
	logPi := utils.LogSoftmaxRows(mat.NewDense(1, 1, []float64{0}))
	mu := mat.NewDense(1, 1, []float64{0})
	good := mat.NewDense(1, 1, []float64{1})
	zero := mat.NewDense(1, 1, []float64{0})
	one := mat.NewDense(1, 1, []float64{1})

	if _, err := New(logPi, mu, mu, zero, good, zero); !errors.IsType(err, errors.ErrorTypeDistribution) {
		t.Fatalf("expected distribution error for sigma=0, got %v", err)
	}
	if _, err := New(logPi, mu, mu, good, good, one); !errors.IsType(err, errors.ErrorTypeDistribution) {
		t.Fatalf("expected distribution error for rho=1, got %v", err)
	}
	wide := mat.NewDense(1, 2, []float64{0, 0})
	if _, err := New(logPi, wide, mu, good, good, zero); !errors.IsType(err, errors.ErrorTypeDimension) {
		t.Fatalf("expected dimension error for shape mismatch, got %v", err)
	}
}

func TestSampleRecoversSingleComponentMoments(t *testing.T) {
	const n = 20000
	mu1v, mu2v := 1.5, -0.75
	s1v, s2v := 0.8, 1.3

	logPi := mat.NewDense(1, 1, []float64{0}) // log 1
	mu1 := mat.NewDense(1, 1, []float64{mu1v})
	mu2 := mat.NewDense(1, 1, []float64{mu2v})
	s1 := mat.NewDense(1, 1, []float64{s1v})
	s2 := mat.NewDense(1, 1, []float64{s2v})
	rho := mat.NewDense(1, 1, []float64{0})
	m, err := New(logPi, mu1, mu2, s1, s2, rho)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	src := xrand.NewSource(99)
	var sum1, sum2, sq1, sq2 float64
	for i := 0; i < n; i++ {
		p := m.Sample(src)
		x1, x2 := p.At(0, 0), p.At(0, 1)
		sum1 += x1
		sum2 += x2
		sq1 += (x1 - mu1v) * (x1 - mu1v)
		sq2 += (x2 - mu2v) * (x2 - mu2v)
	}
	mean1, mean2 := sum1/n, sum2/n
	sd1, sd2 := math.Sqrt(sq1/n), math.Sqrt(sq2/n)

	if math.Abs(mean1-mu1v) > 0.05 || math.Abs(mean2-mu2v) > 0.05 {
		t.Fatalf("sample means off: got (%.4g, %.4g) want (%g, %g)", mean1, mean2, mu1v, mu2v)
	}
	if math.Abs(sd1-s1v) > 0.05 || math.Abs(sd2-s2v) > 0.05 {
		t.Fatalf("sample std devs off: got (%.4g, %.4g) want (%g, %g)", sd1, sd2, s1v, s2v)
	}
}

func TestSampleDeterministicWithSeededSource(t *testing.T) {
	m := buildMixture(t, 3, 5, 11)
	a := m.Sample(xrand.NewSource(1234))
	b := m.Sample(xrand.NewSource(1234))
	if !mat.Equal(a, b) {
		t.Fatalf("identically seeded sources produced different samples:\na=%v\nb=%v",
			mat.Formatted(a), mat.Formatted(b))
	}
}
