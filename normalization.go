package pmgan

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// BatchNormOptions Arguments passed to batch normalization factory.
//
// Ch - number of channels (features). Always overwritten by the caller of BatchNorm
// UseSN - whether spectral normalization should be used inside normalization layer. Nil means "inherit from module"
type BatchNormOptions struct {
	Ch       int
	UseSN    *bool
	Momentum float64
	Epsilon  float64
}

// SpectralNorm Returns resolved UseSN value
func (opts BatchNormOptions) SpectralNorm() bool {
	return opts.UseSN != nil && *opts.UseSN
}

// BatchNormFunc Factory for batch normalization sublayers
type BatchNormFunc func(g *gorgonia.ExprGraph, name string, opts BatchNormOptions) (Sublayer, error)

var (
	batchNormsMu sync.RWMutex
	batchNorms   = map[string]BatchNormFunc{
		"batch_norm":    StandardBatchNorm,
		"no_batch_norm": NoBatchNorm,
	}
)

// RegisterBatchNorm Makes factory available for config references ('@name')
func RegisterBatchNorm(name string, fn BatchNormFunc) error {
	if name == "" || fn == nil {
		return fmt.Errorf("Can't register batch normalization with empty name or nil factory")
	}
	batchNormsMu.Lock()
	defer batchNormsMu.Unlock()
	if _, ok := batchNorms[name]; ok {
		return fmt.Errorf("Batch normalization '%s' has been registered already", name)
	}
	batchNorms[name] = fn
	return nil
}

// BatchNormByName Lookup for registered factory
func BatchNormByName(name string) (BatchNormFunc, bool) {
	batchNormsMu.RLock()
	defer batchNormsMu.RUnlock()
	fn, ok := batchNorms[name]
	return fn, ok
}

// BatchNormNames Returns sorted names of registered factories
func BatchNormNames() []string {
	batchNormsMu.RLock()
	defer batchNormsMu.RUnlock()
	names := make([]string, 0, len(batchNorms))
	for name := range batchNorms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// makeBatchNorm Shared by generators and discriminators.
// No factory gives identity; UseSN is inherited from module when it is not set explicitly.
func makeBatchNorm(m *Module, factory BatchNormFunc, spectralNorm bool, ch int, opts BatchNormOptions) (Sublayer, error) {
	name := fmt.Sprintf("%s_bn%d", m.name, m.bnCount)
	m.bnCount++
	if factory == nil {
		return NewSequential(name), nil
	}
	opts.Ch = ch
	if opts.UseSN == nil {
		sn := spectralNorm
		opts.UseSN = &sn
	}
	layer, err := factory(m.graph, name, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] Can't create batch normalization for %d channels", m.name, ch)
	}
	return layer, nil
}

// NoBatchNorm Factory which gives identity
func NoBatchNorm(g *gorgonia.ExprGraph, name string, opts BatchNormOptions) (Sublayer, error) {
	return NewSequential(name), nil
}

// StandardBatchNorm Factory for gorgonia's batch normalization. UseSN is not accepted by this layer and ignored
func StandardBatchNorm(g *gorgonia.ExprGraph, name string, opts BatchNormOptions) (Sublayer, error) {
	return NewBatchNorm(g, name, opts.Ch, opts.Momentum, opts.Epsilon)
}

// BatchNorm Batch normalization over channel axis with per-channel learnable scale and bias.
// 2D inputs [batch, ch] are viewed as [batch, ch, 1, 1].
//
// ops - one gorgonia op per Fwd call. Each keeps its own running statistics
type BatchNorm struct {
	Ch       int
	Momentum float64
	Epsilon  float64

	name  string
	scale *Parameter
	bias  *Parameter
	ops   []*gorgonia.BatchNormOp
}

// NewBatchNorm Constructor for BatchNorm. Zero momentum and epsilon are replaced by 0.9 and 1e-5
func NewBatchNorm(g *gorgonia.ExprGraph, name string, ch int, momentum, epsilon float64) (*BatchNorm, error) {
	if ch <= 0 {
		return nil, fmt.Errorf("Batch normalization '%s' needs positive number of channels, got %d", name, ch)
	}
	if momentum == 0 {
		momentum = 0.9
	}
	if epsilon == 0 {
		epsilon = 1e-5
	}
	scale := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, ch, 1, 1), gorgonia.WithName(name+"_scale"), gorgonia.WithInit(gorgonia.Ones()))
	bias := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, ch, 1, 1), gorgonia.WithName(name+"_bias"), gorgonia.WithInit(gorgonia.Zeroes()))
	return &BatchNorm{
		Ch:       ch,
		Momentum: momentum,
		Epsilon:  epsilon,
		name:     name,
		scale:    &Parameter{Name: name + "/scale", Node: scale, Trainable: true},
		bias:     &Parameter{Name: name + "/bias", Node: bias, Trainable: true},
	}, nil
}

// Name Returns name of layer
func (bn *BatchNorm) Name() string {
	return bn.name
}

// Parameters Returns scale and bias
func (bn *BatchNorm) Parameters() []*Parameter {
	return []*Parameter{bn.scale, bn.bias}
}

// SetTraining Switches between batch statistics (training) and running statistics (testing)
func (bn *BatchNorm) SetTraining(training bool) {
	for _, op := range bn.ops {
		if training {
			op.SetTraining()
		} else {
			op.SetTesting()
		}
	}
}

// Fwd Initializates feedforward for provided input
func (bn *BatchNorm) Fwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	shp := input.Shape().Clone()
	if len(shp) != 2 && len(shp) != 4 {
		return nil, fmt.Errorf("Batch normalization '%s' expects 2D or 4D input, got %v", bn.name, shp)
	}
	if shp[1] != bn.Ch {
		return nil, fmt.Errorf("Batch normalization '%s' expects %d channels, got %d", bn.name, bn.Ch, shp[1])
	}
	x := input
	var err error
	if len(shp) == 2 {
		x, err = gorgonia.Reshape(input, tensor.Shape{shp[0], shp[1], 1, 1})
		if err != nil {
			return nil, errors.Wrapf(err, "Can't view input of '%s' as 4D", bn.name)
		}
	}
	// Affine part of gorgonia's op is neutralized: per-channel scale and bias are applied below
	g := input.Graph()
	opName := fmt.Sprintf("%s_%d", bn.name, len(bn.ops))
	ones := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(x.Shape().Clone()...), gorgonia.WithName(opName+"_ones"), gorgonia.WithInit(gorgonia.Ones()))
	zeroes := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(x.Shape().Clone()...), gorgonia.WithName(opName+"_zeroes"), gorgonia.WithInit(gorgonia.Zeroes()))
	normed, _, _, op, err := gorgonia.BatchNorm(x, ones, zeroes, bn.Momentum, bn.Epsilon)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't normalize input of '%s'", bn.name)
	}
	bn.ops = append(bn.ops, op)
	scaled, err := gorgonia.BroadcastHadamardProd(normed, bn.scale.Node, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (x.*scale) in '%s'", bn.name)
	}
	out, err := gorgonia.BroadcastAdd(scaled, bn.bias.Node, nil, []byte{0, 2, 3})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (x+bias) in '%s'", bn.name)
	}
	if len(shp) == 2 {
		out, err = gorgonia.Reshape(out, shp)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't view output of '%s' as 2D", bn.name)
		}
	}
	gorgonia.WithName(opName)(out)
	return out, nil
}

// LayerNorm Normalization of every sample over all of its features with learnable gain and bias
type LayerNorm struct {
	Features int
	Epsilon  float64

	name string
	gain *Parameter
	bias *Parameter
}

// NewLayerNorm Constructor for LayerNorm. Gain is initialized by ones, bias by zeroes
func NewLayerNorm(g *gorgonia.ExprGraph, name string, features int) (*LayerNorm, error) {
	if features <= 0 {
		return nil, fmt.Errorf("Layer normalization '%s' needs positive number of features, got %d", name, features)
	}
	gain := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, features), gorgonia.WithName(name+"_gain"), gorgonia.WithInit(gorgonia.Ones()))
	bias := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, features), gorgonia.WithName(name+"_bias"), gorgonia.WithInit(gorgonia.Zeroes()))
	return &LayerNorm{
		Features: features,
		Epsilon:  1e-5,
		name:     name,
		gain:     &Parameter{Name: name + "/gain", Node: gain, Trainable: true},
		bias:     &Parameter{Name: name + "/bias", Node: bias, Trainable: true},
	}, nil
}

// Name Returns name of layer
func (ln *LayerNorm) Name() string {
	return ln.name
}

// Parameters Returns gain and bias
func (ln *LayerNorm) Parameters() []*Parameter {
	return []*Parameter{ln.gain, ln.bias}
}

// Fwd Initializates feedforward for provided input
func (ln *LayerNorm) Fwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	shp := input.Shape().Clone()
	if batchSize <= 0 || shp.TotalSize() != batchSize*ln.Features {
		return nil, fmt.Errorf("Layer normalization '%s' expects %d features per sample, got input %v with batch size %d", ln.name, ln.Features, shp, batchSize)
	}
	flat, err := gorgonia.Reshape(input, tensor.Shape{batchSize, ln.Features})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't flatten input of '%s'", ln.name)
	}
	mean, err := ln.rowMean(flat, batchSize)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do mean(x) in '%s'", ln.name)
	}
	centered, err := gorgonia.BroadcastSub(flat, mean, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (x-mean) in '%s'", ln.name)
	}
	sqr, err := gorgonia.Square(centered)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (x^2) in '%s'", ln.name)
	}
	variance, err := ln.rowMean(sqr, batchSize)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do var(x) in '%s'", ln.name)
	}
	eps := gorgonia.NewScalar(input.Graph(), gorgonia.Float64, gorgonia.WithValue(ln.Epsilon), gorgonia.WithName(ln.name+"_eps"))
	variance, err = gorgonia.Add(variance, eps)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (var+eps) in '%s'", ln.name)
	}
	std, err := gorgonia.Sqrt(variance)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do sqrt(x) in '%s'", ln.name)
	}
	normed, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, []byte{1})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (x/std) in '%s'", ln.name)
	}
	scaled, err := gorgonia.BroadcastHadamardProd(normed, ln.gain.Node, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (x.*gain) in '%s'", ln.name)
	}
	shifted, err := gorgonia.BroadcastAdd(scaled, ln.bias.Node, nil, []byte{0})
	if err != nil {
		return nil, errors.Wrapf(err, "Can't do (x+bias) in '%s'", ln.name)
	}
	out, err := gorgonia.Reshape(shifted, shp)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't restore shape %v in '%s'", shp, ln.name)
	}
	gorgonia.WithName(ln.name)(out)
	return out, nil
}

// rowMean Mean along axis 1 kept as column [batch, 1]
func (ln *LayerNorm) rowMean(x *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	mean, err := gorgonia.Mean(x, 1)
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(mean, tensor.Shape{batchSize, 1})
}
