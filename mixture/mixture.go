// Package mixture evaluates and samples a mixture of bivariate normal
// distributions. Parameters are stored as (rows x K) planes, one row per
// (batch, time) position and one column per mixture component.
package mixture

import (
	"fmt"
	"math"

	xrand "golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/LegendTianjin/handwriting-synthesis/pkg/errors"
	"github.com/LegendTianjin/handwriting-synthesis/utils"
)

const log2Pi = 1.8378770664093453

// BivariateMixture holds the parameters of a K-component mixture of
// bivariate normals for a batch of rows. LogPi must already be log-softmax
// normalized across components; Sigma planes must be strictly positive and
// Rho strictly inside (-1, 1).
type BivariateMixture struct {
	LogPi  *mat.Dense // rows x K
	Mu1    *mat.Dense // rows x K
	Mu2    *mat.Dense // rows x K
	Sigma1 *mat.Dense // rows x K
	Sigma2 *mat.Dense // rows x K
	Rho    *mat.Dense // rows x K

	rows int
	k    int
}

// New validates the parameter planes and wraps them in a BivariateMixture.
func New(logPi, mu1, mu2, sigma1, sigma2, rho *mat.Dense) (*BivariateMixture, error) {
	rows, k := logPi.Dims()
	for name, m := range map[string]*mat.Dense{
		"mu1": mu1, "mu2": mu2, "sigma1": sigma1, "sigma2": sigma2, "rho": rho,
	} {
		r, c := m.Dims()
		if r != rows || c != k {
			return nil, errors.NewDimensionError("MIXTURE_SHAPE",
				fmt.Sprintf("%s is (%d x %d), want (%d x %d)", name, r, c, rows, k))
		}
	}
	for i := 0; i < rows; i++ {
		for j := 0; j < k; j++ {
			if s := sigma1.At(i, j); !(s > 0) {
				return nil, errors.NewDistributionError("NONPOSITIVE_SIGMA",
					fmt.Sprintf("sigma1[%d,%d] = %g", i, j, s))
			}
			if s := sigma2.At(i, j); !(s > 0) {
				return nil, errors.NewDistributionError("NONPOSITIVE_SIGMA",
					fmt.Sprintf("sigma2[%d,%d] = %g", i, j, s))
			}
			if r := rho.At(i, j); !(r > -1 && r < 1) {
				return nil, errors.NewDistributionError("DEGENERATE_RHO",
					fmt.Sprintf("rho[%d,%d] = %g", i, j, r))
			}
		}
	}
	return &BivariateMixture{
		LogPi: logPi, Mu1: mu1, Mu2: mu2,
		Sigma1: sigma1, Sigma2: sigma2, Rho: rho,
		rows: rows, k: k,
	}, nil
}

// Rows returns the number of (batch, time) positions covered.
func (m *BivariateMixture) Rows() int { return m.rows }

// Components returns K.
func (m *BivariateMixture) Components() int { return m.k }

// LogProb returns the mixture log-density of one observed 2D point per row.
// x is (rows x 2). Components are combined with log-sum-exp so small sigmas
// and rho near +-1 do not overflow.
func (m *BivariateMixture) LogProb(x *mat.Dense) (*mat.VecDense, error) {
	xr, xc := x.Dims()
	if xr != m.rows || xc != 2 {
		return nil, errors.NewDimensionError("POINT_SHAPE",
			fmt.Sprintf("x is (%d x %d), want (%d x 2)", xr, xc, m.rows))
	}
	out := mat.NewVecDense(m.rows, nil)
	terms := make([]float64, m.k)
	for i := 0; i < m.rows; i++ {
		x1, x2 := x.At(i, 0), x.At(i, 1)
		for j := 0; j < m.k; j++ {
			terms[j] = m.LogPi.At(i, j) + logBivariateNormal(
				x1, x2,
				m.Mu1.At(i, j), m.Mu2.At(i, j),
				m.Sigma1.At(i, j), m.Sigma2.At(i, j),
				m.Rho.At(i, j),
			)
		}
		out.SetVec(i, utils.LogSumExp(terms))
	}
	return out, nil
}

// logBivariateNormal is the log-density of a single correlated 2D Gaussian:
//
//	Z = t1^2 + t2^2 - 2*rho*t1*t2,  t_i = (x_i - mu_i)/sigma_i
//	log N = -Z/(2(1-rho^2)) - (log 2pi + log s1 + log s2 + 0.5 log(1-rho^2))
func logBivariateNormal(x1, x2, mu1, mu2, s1, s2, rho float64) float64 {
	t1 := (x1 - mu1) / s1
	t2 := (x2 - mu2) / s2
	z := t1*t1 + t2*t2 - 2*rho*t1*t2
	omr2 := 1 - rho*rho
	num := -z / (2 * omr2)
	denom := log2Pi + math.Log(s1) + math.Log(s2) + 0.5*math.Log(omr2)
	return num - denom
}

// Sample draws one 2D point per row. A component index is drawn from the
// exponentiated log-weights, then the component's correlated Gaussian is
// sampled through the 2x2 Cholesky decomposition:
//
//	x1 = mu1 + s1*z1
//	x2 = mu2 + s2*(z2*sqrt(1-rho^2) + z1*rho)
//
// Randomness is consumed from src, so seed it for reproducibility.
func (m *BivariateMixture) Sample(src xrand.Source) *mat.Dense {
	out := mat.NewDense(m.rows, 2, nil)
	stdNorm := distuv.Normal{Mu: 0, Sigma: 1, Src: src}
	w := make([]float64, m.k)
	for i := 0; i < m.rows; i++ {
		for j := 0; j < m.k; j++ {
			w[j] = math.Exp(m.LogPi.At(i, j))
		}
		cat := distuv.NewCategorical(w, src)
		j := int(cat.Rand())

		mu1, mu2 := m.Mu1.At(i, j), m.Mu2.At(i, j)
		s1, s2 := m.Sigma1.At(i, j), m.Sigma2.At(i, j)
		rho := m.Rho.At(i, j)

		z1 := stdNorm.Rand()
		z2 := stdNorm.Rand()
		x1 := mu1 + s1*z1
		x2 := mu2 + s2*(z2*math.Sqrt(1-rho*rho)+z1*rho)
		out.Set(i, 0, x1)
		out.Set(i, 1, x2)
	}
	return out
}
