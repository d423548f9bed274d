package architectures

import (
	"testing"

	"github.com/LdDl/pmgan"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

var testShape = pmgan.ImageShape{10, 8, 1}

func labelsNode(t *testing.T, g *gorgonia.ExprGraph, name string, labels []int, classes int) *gorgonia.Node {
	oneHot, err := pmgan.OneHotDense(labels, classes)
	require.NoError(t, err)
	return gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(len(labels), classes), gorgonia.WithName(name), gorgonia.WithValue(oneHot))
}

func TestDCGANGeneratorForward(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := NewDCGANGenerator(g, pmgan.GeneratorConfig{
		ImageShape: testShape,
		BatchNorm:  pmgan.StandardBatchNorm,
	}, DCGANOptions{ZDim: 6, Classes: 3, Channels: 4})
	require.NoError(t, err)
	assert.Equal(t, "generator", gen.Name())
	assert.True(t, gen.Applied())
	assert.Equal(t, []string{"generator_fc", "bn", "conv", "bn_1", "conv_1"}, gen.Sublayers())

	bn, ok := gen.Sublayer("bn_1")
	require.True(t, ok)
	assert.Equal(t, "generator_bn1", bn.Name())
	// fc, conv1, conv2 (weight + bias) and two batch norms (scale + bias)
	assert.Len(t, gen.Learnables(), 10)

	z := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(5, 6), gorgonia.WithName("z"), gorgonia.WithValue(pmgan.NormRandDense(5, 6)))
	y := labelsNode(t, g, "y", []int{0, 1, 2, 0, 1}, 3)
	out, err := gen.Forward(z, y)
	require.NoError(t, err)
	assert.Equal(t, testShape.NCHW(5), []int(out.Shape()))

	var outVal gorgonia.Value
	gorgonia.Read(out, &outVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	for _, v := range outVal.Data().([]float64) {
		assert.Greater(t, v, -1.0)
		assert.Less(t, v, 1.0)
	}
}

func TestDCGANGeneratorInputChecks(t *testing.T) {
	g := gorgonia.NewGraph()
	gen, err := NewDCGANGenerator(g, pmgan.GeneratorConfig{ImageShape: testShape}, DCGANOptions{ZDim: 6, Classes: 3})
	require.NoError(t, err)
	// No batch norm factory: identities are registered anyway
	assert.Equal(t, []string{"generator_fc", "bn", "conv", "bn_1", "conv_1"}, gen.Sublayers())
	assert.Len(t, gen.Learnables(), 6)

	_, err = gen.Forward(nil, labelsNode(t, g, "y_nil_z", []int{0, 1}, 3))
	assert.ErrorContains(t, err, "latent code is nil")

	z := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 6), gorgonia.WithName("z"))
	_, err = gen.Forward(z, nil)
	assert.ErrorContains(t, err, "conditional model needs labels")

	wrongZ := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 5), gorgonia.WithName("wrong_z"))
	_, err = gen.Forward(wrongZ, labelsNode(t, g, "y", []int{0, 1}, 3))
	assert.Error(t, err)

	_, err = gen.Forward(z, labelsNode(t, g, "y4", []int{0, 1}, 4))
	assert.Error(t, err)

	_, err = NewDCGANGenerator(g, pmgan.GeneratorConfig{Name: "no_shape"}, DCGANOptions{ZDim: 6})
	assert.ErrorContains(t, err, "image shape is required")
	_, err = NewDCGANGenerator(g, pmgan.GeneratorConfig{Name: "no_z", ImageShape: testShape}, DCGANOptions{})
	assert.ErrorContains(t, err, "latent space size")
	_, err = NewDCGANGenerator(g, pmgan.GeneratorConfig{Name: "bad_shape", ImageShape: pmgan.ImageShape{0, 8, 1}}, DCGANOptions{ZDim: 6})
	assert.Error(t, err)
}

func TestDCGANLifecycle(t *testing.T) {
	g := gorgonia.NewGraph()
	base, err := pmgan.NewBaseGenerator(g, pmgan.GeneratorConfig{ImageShape: testShape})
	require.NoError(t, err)
	gen := &DCGANGenerator{BaseGenerator: base, opts: DCGANOptions{ZDim: 4}}

	z := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 4), gorgonia.WithName("z"))
	_, err = gen.Forward(z, nil)
	require.ErrorIs(t, err, pmgan.ErrNotApplied)

	require.NoError(t, pmgan.Construct(gen))
	require.ErrorIs(t, pmgan.Construct(gen), pmgan.ErrAlreadyApplied)
	out, err := gen.Forward(z, nil)
	require.NoError(t, err)
	assert.Equal(t, testShape.NCHW(2), []int(out.Shape()))
}

func TestDCGANDiscriminatorForward(t *testing.T) {
	tests := []struct {
		name      string
		cfg       pmgan.DiscriminatorConfig
		normType  interface{}
		snParams  int
		learnable int
	}{
		{
			name:      "batch norm",
			cfg:       pmgan.DiscriminatorConfig{ImageShape: testShape, BatchNorm: pmgan.StandardBatchNorm},
			normType:  &pmgan.BatchNorm{},
			learnable: 8,
		},
		{
			name:      "layer norm with spectral norm",
			cfg:       pmgan.DiscriminatorConfig{ImageShape: testShape, BatchNorm: pmgan.StandardBatchNorm, LayerNorm: true, SpectralNorm: true},
			normType:  &pmgan.LayerNorm{},
			snParams:  3,
			learnable: 8,
		},
		{
			name:      "no normalization",
			cfg:       pmgan.DiscriminatorConfig{ImageShape: testShape},
			normType:  &pmgan.Sequential{},
			learnable: 6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := gorgonia.NewGraph()
			dis, err := NewDCGANDiscriminator(g, tt.cfg, DCGANOptions{Classes: 2, Channels: 4})
			require.NoError(t, err)
			assert.Equal(t, []string{"discriminator_conv1", "discriminator_conv2", "norm", "discriminator_flatten", "discriminator_fc"}, dis.Sublayers())
			// 10x8 => 5x4 => 3x2 with 8 feature maps
			assert.Equal(t, 8*3*2, dis.Features())

			norm, ok := dis.Sublayer("norm")
			require.True(t, ok)
			assert.IsType(t, tt.normType, norm)
			assert.Len(t, dis.Learnables(), tt.learnable)
			assert.Len(t, dis.Parameters(), tt.learnable+tt.snParams)

			x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(testShape.NCHW(3)...), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(testShape.NCHW(3)...), tensor.WithBacking(pmgan.UniformRandDense(3, testShape.Size()).Data()))))
			y := labelsNode(t, g, "y", []int{0, 1, 1}, 2)
			out, logits, features, err := dis.Forward(x, y)
			require.NoError(t, err)
			assert.Equal(t, []int{3, 1}, []int(out.Shape()))
			assert.Equal(t, []int{3, 1}, []int(logits.Shape()))
			assert.Equal(t, []int{3, dis.Features()}, []int(features.Shape()))

			var outVal gorgonia.Value
			gorgonia.Read(out, &outVal)
			vm := gorgonia.NewTapeMachine(g)
			defer vm.Close()
			require.NoError(t, vm.RunAll())
			for _, v := range outVal.Data().([]float64) {
				assert.Greater(t, v, 0.0)
				assert.Less(t, v, 1.0)
			}
			require.NoError(t, dis.Refresh())
		})
	}
}

func TestDCGANDiscriminatorInputChecks(t *testing.T) {
	g := gorgonia.NewGraph()
	dis, err := NewDCGANDiscriminator(g, pmgan.DiscriminatorConfig{ImageShape: testShape}, DCGANOptions{})
	require.NoError(t, err)

	_, _, _, err = dis.Forward(nil, nil)
	assert.ErrorContains(t, err, "images are nil")

	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(testShape.NCHW(2)...), gorgonia.WithName("x"))
	_, _, _, err = dis.Forward(x, labelsNode(t, g, "y", []int{0, 1}, 2))
	assert.ErrorContains(t, err, "labels are provided for unconditional model")

	wrong := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2, 3, 10, 8), gorgonia.WithName("wrong"))
	_, _, _, err = dis.Forward(wrong, nil)
	assert.Error(t, err)

	_, _, _, err = dis.Forward(x, nil)
	assert.NoError(t, err)
}

func TestGAN(t *testing.T) {
	opts := DCGANOptions{ZDim: 4, Classes: 2, Channels: 2}
	disCfg := pmgan.DiscriminatorConfig{ImageShape: testShape, LayerNorm: true, SpectralNorm: true}

	ganGraph := gorgonia.NewGraph()
	gen, err := NewDCGANGenerator(ganGraph, pmgan.GeneratorConfig{ImageShape: testShape, BatchNorm: pmgan.StandardBatchNorm}, opts)
	require.NoError(t, err)
	dis, err := NewDCGANDiscriminator(ganGraph, disCfg, opts)
	require.NoError(t, err)

	otherGraph := gorgonia.NewGraph()
	disTrain, err := NewDCGANDiscriminator(otherGraph, disCfg, opts)
	require.NoError(t, err)

	_, err = pmgan.NewGAN(gen, disTrain)
	assert.Error(t, err)
	_, err = pmgan.NewGAN(gen, nil)
	assert.Error(t, err)

	net, err := pmgan.NewGAN(gen, dis)
	require.NoError(t, err)
	assert.Equal(t, gen.Learnables(), net.GeneratorLearnables())
	assert.Len(t, net.DiscriminatorParameters(), len(dis.Parameters()))

	z := gorgonia.NewMatrix(ganGraph, gorgonia.Float64, gorgonia.WithShape(3, 4), gorgonia.WithName("z"), gorgonia.WithValue(pmgan.NormRandDense(3, 4)))
	y := labelsNode(t, ganGraph, "y", []int{1, 0, 1}, 2)
	require.NoError(t, net.Fwd(z, y))
	assert.Equal(t, testShape.NCHW(3), []int(net.GeneratorOut().Shape()))
	assert.Equal(t, []int{3, 1}, []int(net.Out().Shape()))
	assert.Equal(t, []int{3, 1}, []int(net.Logits().Shape()))
	assert.Equal(t, []int{3, dis.Features()}, []int(net.Features().Shape()))

	// Discriminator trained on another graph is brought into GAN graph
	require.NoError(t, pmgan.SyncParameters(net.DiscriminatorParameters(), disTrain.Parameters()))
	src := disTrain.Parameters()
	for i, p := range net.DiscriminatorParameters() {
		require.Equal(t, src[i].Name, p.Name)
		assert.Equal(t, src[i].Node.Value().Data(), p.Node.Value().Data(), p.Name)
	}

	cost, err := pmgan.NonSaturatingGeneratorLoss(net.Out())
	require.NoError(t, err)
	_, err = gorgonia.Grad(cost, net.GeneratorLearnables()...)
	require.NoError(t, err)
	vm := gorgonia.NewTapeMachine(ganGraph, gorgonia.BindDualValues(net.GeneratorLearnables()...))
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	solver := gorgonia.NewAdamSolver(gorgonia.WithLearnRate(0.001))
	require.NoError(t, solver.Step(gorgonia.NodesToValueGrads(net.GeneratorLearnables())))
	require.NoError(t, gen.Refresh())
}

func TestSyncParametersMismatch(t *testing.T) {
	opts := DCGANOptions{Channels: 2}
	a, err := NewDCGANDiscriminator(gorgonia.NewGraph(), pmgan.DiscriminatorConfig{ImageShape: testShape}, opts)
	require.NoError(t, err)
	b, err := NewDCGANDiscriminator(gorgonia.NewGraph(), pmgan.DiscriminatorConfig{ImageShape: pmgan.ImageShape{20, 8, 1}}, opts)
	require.NoError(t, err)
	c, err := NewDCGANDiscriminator(gorgonia.NewGraph(), pmgan.DiscriminatorConfig{Name: "critic", ImageShape: testShape}, opts)
	require.NoError(t, err)
	d, err := NewDCGANDiscriminator(gorgonia.NewGraph(), pmgan.DiscriminatorConfig{ImageShape: testShape, SpectralNorm: true}, opts)
	require.NoError(t, err)

	assert.ErrorContains(t, pmgan.SyncParameters(a.Parameters(), b.Parameters()), "Shapes of parameter")
	assert.ErrorContains(t, pmgan.SyncParameters(a.Parameters(), c.Parameters()), "There is no source")
	assert.Error(t, pmgan.SyncParameters(a.Parameters(), d.Parameters()))
}
