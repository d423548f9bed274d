package pmgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/mat"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// SpectralNorm Power iteration estimate of the largest singular value of a weight.
// Weight of shape [out, ...] is viewed as matrix [out, rest].
//
// u - current estimate of left singular vector, [1, out]. Not trainable
// uNext - estimate after power iterations, read back by Refresh
type SpectralNorm struct {
	Iterations int
	Epsilon    float64

	name       string
	weight     *gorgonia.Node
	rows, cols int
	u          *gorgonia.Node
	uNext      *gorgonia.Node
	uValue     gorgonia.Value
	sigma      *gorgonia.Node
	normalized *gorgonia.Node
	param      *Parameter
}

// NewSpectralNorm Attaches spectral normalization state to weight node
func NewSpectralNorm(g *gorgonia.ExprGraph, name string, weight *gorgonia.Node) (*SpectralNorm, error) {
	if weight == nil {
		return nil, fmt.Errorf("Can't normalize nil weight")
	}
	shp := weight.Shape()
	if len(shp) < 2 {
		return nil, fmt.Errorf("Spectral normalization needs weight with 2 dimensions atleast, got %v", shp)
	}
	rows := shp[0]
	cols := shp.TotalSize() / rows
	u := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, rows), gorgonia.WithName(name+"_sn_u"), gorgonia.WithInit(gorgonia.Gaussian(0, 1)))
	return &SpectralNorm{
		Iterations: 1,
		Epsilon:    1e-12,
		name:       name,
		weight:     weight,
		rows:       rows,
		cols:       cols,
		u:          u,
		param:      &Parameter{Name: name + "/sn_u", Node: u, Trainable: false, StopGradient: true},
	}, nil
}

// Parameters Singular vector estimate. It is never trainable
func (sn *SpectralNorm) Parameters() []*Parameter {
	return []*Parameter{sn.param}
}

// Sigma Returns node holding estimated spectral norm. Available after Normalized
func (sn *SpectralNorm) Sigma() *gorgonia.Node {
	return sn.sigma
}

func (sn *SpectralNorm) l2normalize(v *gorgonia.Node) (*gorgonia.Node, error) {
	sqr, err := gorgonia.Square(v)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	sum, err := gorgonia.Sum(sqr)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sum(x)")
	}
	sum, err = gorgonia.Add(sum, gorgonia.NewScalar(v.Graph(), gorgonia.Float64, gorgonia.WithValue(sn.Epsilon), gorgonia.WithName(sn.name+"_sn_eps")))
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+eps)")
	}
	norm, err := gorgonia.Sqrt(sum)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(x)")
	}
	return gorgonia.Div(v, norm)
}

// Normalized Returns node W/sigma. Graph part is built once and reused on next calls
func (sn *SpectralNorm) Normalized() (*gorgonia.Node, error) {
	if sn.normalized != nil {
		return sn.normalized, nil
	}
	if sn.Iterations < 1 {
		return nil, fmt.Errorf("Spectral normalization of '%s' needs one iteration atleast", sn.name)
	}
	wMat := sn.weight
	var err error
	if sn.weight.Dims() != 2 {
		wMat, err = gorgonia.Reshape(sn.weight, tensor.Shape{sn.rows, sn.cols})
		if err != nil {
			return nil, errors.Wrapf(err, "Can't view weight of '%s' as matrix", sn.name)
		}
	}
	wT, err := gorgonia.Transpose(wMat)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't transpose weight of '%s'", sn.name)
	}
	u := sn.u
	var v *gorgonia.Node
	for i := 0; i < sn.Iterations; i++ {
		v, err = gorgonia.Mul(u, wMat)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s, iteration #%d] Can't do (u@W)", sn.name, i)
		}
		v, err = sn.l2normalize(v)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s, iteration #%d] Can't normalize v", sn.name, i)
		}
		u, err = gorgonia.Mul(v, wT)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s, iteration #%d] Can't do (v@W^T)", sn.name, i)
		}
		u, err = sn.l2normalize(u)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s, iteration #%d] Can't normalize u", sn.name, i)
		}
	}
	uw, err := gorgonia.Mul(u, wMat)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] Can't do (u@W)", sn.name)
	}
	prod, err := gorgonia.HadamardProd(uw, v)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] Can't do (uW.*v)", sn.name)
	}
	sigma, err := gorgonia.Sum(prod)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] Can't do sum(x)", sn.name)
	}
	gorgonia.WithName(sn.name + "_sn_sigma")(sigma)
	normalized, err := gorgonia.Div(sn.weight, sigma)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] Can't do (W/sigma)", sn.name)
	}
	gorgonia.WithName(sn.name + "_sn_w")(normalized)

	sn.uNext = u
	gorgonia.Read(sn.uNext, &sn.uValue)
	sn.sigma = sigma
	sn.normalized = normalized
	return normalized, nil
}

// Refresh Carries singular vector estimate of the last evaluation into the next one.
// Should be called after each run of machine.
func (sn *SpectralNorm) Refresh() error {
	if sn.uValue == nil {
		return nil
	}
	v, err := gorgonia.CloneValue(sn.uValue)
	if err != nil {
		return errors.Wrapf(err, "[%s] Can't copy singular vector estimate", sn.name)
	}
	if err := gorgonia.Let(sn.u, v); err != nil {
		return errors.Wrapf(err, "[%s] Can't bind singular vector estimate", sn.name)
	}
	return nil
}

// ExactSigma Computes largest singular value of provided weight via SVD. Weight is viewed as [shape[0], rest]
func ExactSigma(weight tensor.Tensor) (float64, error) {
	shp := weight.Shape()
	if len(shp) < 2 {
		return 0, fmt.Errorf("Need 2 dimensions atleast, got %v", shp)
	}
	data, ok := weight.Data().([]float64)
	if !ok {
		return 0, fmt.Errorf("Only float64 weights are supported, got %v", weight.Dtype())
	}
	rows := shp[0]
	cols := shp.TotalSize() / rows
	backing := make([]float64, len(data))
	copy(backing, data)
	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(rows, cols, backing), mat.SVDNone) {
		return 0, fmt.Errorf("SVD factorization failed")
	}
	return svd.Values(nil)[0], nil
}
