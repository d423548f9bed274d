package pmgan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

type recordedBatchNorm struct {
	name string
	opts BatchNormOptions
}

func recordingFactory(calls *[]recordedBatchNorm) BatchNormFunc {
	return func(g *gorgonia.ExprGraph, name string, opts BatchNormOptions) (Sublayer, error) {
		*calls = append(*calls, recordedBatchNorm{name: name, opts: opts})
		return NewSequential(name), nil
	}
}

func boolPtr(v bool) *bool {
	return &v
}

func TestBatchNormWithoutFactoryIsIdentity(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := NewBaseGenerator(g, GeneratorConfig{ImageShape: ImageShape{4, 4, 1}})
	require.NoError(t, err)

	layer, err := gen.BatchNorm(8, BatchNormOptions{})
	require.NoError(t, err)
	seq, ok := layer.(*Sequential)
	require.True(t, ok)
	assert.Empty(t, seq.Layers)
	assert.Empty(t, layer.Parameters())

	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2, 8, 4, 4), gorgonia.WithName("x"))
	out, err := layer.Fwd(x, 2)
	require.NoError(t, err)
	assert.Same(t, x, out)
}

func TestBatchNormSpectralNormInheritance(t *testing.T) {
	var calls []recordedBatchNorm
	gen, err := NewBaseGenerator(gorgonia.NewGraph(), GeneratorConfig{
		BatchNorm:    recordingFactory(&calls),
		SpectralNorm: true,
	})
	require.NoError(t, err)

	_, err = gen.BatchNorm(4, BatchNormOptions{Ch: 99})
	require.NoError(t, err)
	_, err = gen.BatchNorm(16, BatchNormOptions{UseSN: boolPtr(false), Momentum: 0.5})
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, "generator_bn0", calls[0].name)
	assert.Equal(t, 4, calls[0].opts.Ch)
	require.NotNil(t, calls[0].opts.UseSN)
	assert.True(t, calls[0].opts.SpectralNorm())

	assert.Equal(t, "generator_bn1", calls[1].name)
	assert.Equal(t, 16, calls[1].opts.Ch)
	assert.False(t, calls[1].opts.SpectralNorm())
	assert.Equal(t, 0.5, calls[1].opts.Momentum)
}

func TestDiscriminatorBatchNormInheritance(t *testing.T) {
	var calls []recordedBatchNorm
	dis, err := NewBaseDiscriminator(gorgonia.NewGraph(), DiscriminatorConfig{
		Name:      "critic",
		BatchNorm: recordingFactory(&calls),
	})
	require.NoError(t, err)
	assert.Equal(t, "critic", dis.Name())

	_, err = dis.BatchNorm(2, BatchNormOptions{})
	require.NoError(t, err)
	_, err = dis.BatchNorm(2, BatchNormOptions{UseSN: boolPtr(true)})
	require.NoError(t, err)

	require.Len(t, calls, 2)
	assert.Equal(t, "critic_bn0", calls[0].name)
	assert.False(t, calls[0].opts.SpectralNorm())
	assert.True(t, calls[1].opts.SpectralNorm())
}

func TestBatchNormRegistry(t *testing.T) {
	names := BatchNormNames()
	assert.Contains(t, names, "batch_norm")
	assert.Contains(t, names, "no_batch_norm")

	fn, ok := BatchNormByName("batch_norm")
	require.True(t, ok)
	require.NotNil(t, fn)
	_, ok = BatchNormByName("group_norm")
	assert.False(t, ok)

	require.NoError(t, RegisterBatchNorm("registry_test_norm", NoBatchNorm))
	require.Error(t, RegisterBatchNorm("registry_test_norm", NoBatchNorm))
	require.Error(t, RegisterBatchNorm("", NoBatchNorm))
	require.Error(t, RegisterBatchNorm("nil_factory", nil))
	_, ok = BatchNormByName("registry_test_norm")
	assert.True(t, ok)
}

func channelMeans(data []float64, n, ch, spatial int) []float64 {
	means := make([]float64, ch)
	for b := 0; b < n; b++ {
		for c := 0; c < ch; c++ {
			for s := 0; s < spatial; s++ {
				means[c] += data[(b*ch+c)*spatial+s]
			}
		}
	}
	for c := range means {
		means[c] /= float64(n * spatial)
	}
	return means
}

func TestStandardBatchNormForward(t *testing.T) {
	g := gorgonia.NewGraph()
	layer, err := StandardBatchNorm(g, "bn", BatchNormOptions{Ch: 2})
	require.NoError(t, err)
	bn := layer.(*BatchNorm)
	assert.Equal(t, 0.9, bn.Momentum)
	assert.Equal(t, 1e-5, bn.Epsilon)
	require.Len(t, bn.Parameters(), 2)

	data := make([]float64, 3*2*2*2)
	for i := range data {
		data[i] = float64(i*i%7) + 3
	}
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(3, 2, 2, 2), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(3, 2, 2, 2), tensor.WithBacking(data))))
	out, err := bn.Fwd(x, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 2, 2}, []int(out.Shape()))

	var outVal gorgonia.Value
	gorgonia.Read(out, &outVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	means := channelMeans(outVal.Data().([]float64), 3, 2, 4)
	for c, mean := range means {
		assert.InDelta(t, 0, mean, 1e-6, "channel #%d", c)
	}

	_, err = bn.Fwd(gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(3, 5), gorgonia.WithName("wrong")), 3)
	assert.Error(t, err)
}

func TestStandardBatchNormFlatInput(t *testing.T) {
	g := gorgonia.NewGraph()
	bn, err := NewBatchNorm(g, "bn_flat", 4, 0, 0)
	require.NoError(t, err)
	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(5, 4), gorgonia.WithName("x"))
	out, err := bn.Fwd(x, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{5, 4}, []int(out.Shape()))
	bn.SetTraining(false)
	bn.SetTraining(true)

	_, err = NewBatchNorm(g, "bn_empty", 0, 0, 0)
	assert.Error(t, err)
}

func TestLayerNormForward(t *testing.T) {
	g := gorgonia.NewGraph()
	ln, err := NewLayerNorm(g, "ln", 4)
	require.NoError(t, err)
	require.Len(t, ln.Parameters(), 2)

	data := []float64{
		1, 2, 3, 4,
		10, 0, 10, 0,
	}
	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 4), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(2, 4), tensor.WithBacking(data))))
	out, err := ln.Fwd(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4}, []int(out.Shape()))

	var outVal gorgonia.Value
	gorgonia.Read(out, &outVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())

	res := outVal.Data().([]float64)
	for row := 0; row < 2; row++ {
		mean, sqr := 0.0, 0.0
		for _, v := range res[row*4 : (row+1)*4] {
			mean += v
			sqr += v * v
		}
		assert.InDelta(t, 0, mean/4, 1e-9)
		assert.InDelta(t, 1, sqr/4, 1e-3)
	}
	// Second row is +1/-1 pattern
	assert.InDelta(t, 1, res[4], 1e-3)
	assert.InDelta(t, -1, res[5], 1e-3)
	assert.InDelta(t, -1.3416, res[0], 1e-3)
	assert.False(t, math.IsNaN(res[3]))
}

func TestLayerNormKeepsShape(t *testing.T) {
	g := gorgonia.NewGraph()
	ln, err := NewLayerNorm(g, "ln4d", 2*3*3)
	require.NoError(t, err)
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(4, 2, 3, 3), gorgonia.WithName("x"))
	out, err := ln.Fwd(x, 4)
	require.NoError(t, err)
	assert.Equal(t, []int{4, 2, 3, 3}, []int(out.Shape()))

	_, err = ln.Fwd(x, 3)
	assert.Error(t, err)
	_, err = NewLayerNorm(g, "ln_empty", 0)
	assert.Error(t, err)
}
