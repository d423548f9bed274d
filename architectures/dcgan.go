package architectures

import (
	"fmt"

	"github.com/LdDl/pmgan"
	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// DCGANOptions Sizes of DCGAN-like architectures
//
// ZDim - latent space size (generator only)
// Classes - number of classes for conditional models. Zero means unconditional model
// Channels - number of feature maps in first convolution
type DCGANOptions struct {
	ZDim     int
	Classes  int
	Channels int
}

func (opts DCGANOptions) channels() int {
	if opts.Channels <= 0 {
		return 16
	}
	return opts.Channels
}

// DCGANGenerator z(+y) => linear(ch*H*W) => reshape(ch,H,W) => bn,relu => conv3x3(ch) => bn,relu => conv3x3(colors) => tanh
type DCGANGenerator struct {
	*pmgan.BaseGenerator
	opts DCGANOptions

	fc    pmgan.LayerFunc
	bn0   pmgan.LayerFunc
	conv1 pmgan.LayerFunc
	bn1   pmgan.LayerFunc
	conv2 pmgan.LayerFunc
}

// NewDCGANGenerator Constructor for DCGANGenerator
func NewDCGANGenerator(g *gorgonia.ExprGraph, cfg pmgan.GeneratorConfig, opts DCGANOptions) (*DCGANGenerator, error) {
	base, err := pmgan.NewBaseGenerator(g, cfg)
	if err != nil {
		return nil, err
	}
	gen := &DCGANGenerator{BaseGenerator: base, opts: opts}
	if err := pmgan.Construct(gen); err != nil {
		return nil, err
	}
	return gen, nil
}

// Apply Builds sublayers of generator
func (gen *DCGANGenerator) Apply() error {
	shape := gen.ImageShape()
	if shape == nil {
		return fmt.Errorf("image shape is required")
	}
	if gen.opts.ZDim <= 0 {
		return fmt.Errorf("latent space size should be positive, got %d", gen.opts.ZDim)
	}
	g := gen.Graph()
	ch := gen.opts.channels()
	sn := gen.SpectralNorm()
	prefix := gen.Name()

	fc, err := pmgan.NewLinear(g, prefix+"_fc", gen.opts.ZDim+gen.opts.Classes, ch*shape.Height()*shape.Width(), pmgan.LayerOptions{Bias: true, SpectralNorm: sn})
	if err != nil {
		return err
	}
	conv1, err := pmgan.NewConv2d(g, prefix+"_conv1", ch, ch, 3, 1, 1, pmgan.LayerOptions{Bias: true, SpectralNorm: sn})
	if err != nil {
		return err
	}
	conv2, err := pmgan.NewConv2d(g, prefix+"_conv2", ch, shape.Colors(), 3, 1, 1, pmgan.LayerOptions{Bias: true, SpectralNorm: sn, Activation: pmgan.Tanh})
	if err != nil {
		return err
	}
	bn0, err := gen.BatchNorm(ch, pmgan.BatchNormOptions{})
	if err != nil {
		return err
	}
	bn1, err := gen.BatchNorm(ch, pmgan.BatchNormOptions{})
	if err != nil {
		return err
	}

	if gen.fc, err = gen.AddSublayer(fc); err != nil {
		return err
	}
	if gen.bn0, err = gen.AddSublayer(bn0, "bn"); err != nil {
		return err
	}
	if gen.conv1, err = gen.AddSublayer(conv1, "conv"); err != nil {
		return err
	}
	if gen.bn1, err = gen.AddSublayer(bn1, "bn"); err != nil {
		return err
	}
	if gen.conv2, err = gen.AddSublayer(conv2, "conv"); err != nil {
		return err
	}
	return nil
}

// Forward Builds generator part of graph. Output is [batch, colors, height, width] in range (-1, 1)
func (gen *DCGANGenerator) Forward(z, y *gorgonia.Node) (*gorgonia.Node, error) {
	if err := gen.CheckApplied(); err != nil {
		return nil, err
	}
	if z == nil {
		return nil, fmt.Errorf("[%s] latent code is nil", gen.Name())
	}
	if z.Dims() != 2 || z.Shape()[1] != gen.opts.ZDim {
		return nil, fmt.Errorf("[%s] latent code should be [batch, %d], got %v", gen.Name(), gen.opts.ZDim, z.Shape())
	}
	batchSize := z.Shape()[0]
	input, err := conditionOn(z, y, gen.opts.Classes)
	if err != nil {
		return nil, errors.Wrapf(err, "[%s]", gen.Name())
	}
	shape := gen.ImageShape()
	ch := gen.opts.channels()

	out, err := gen.fc(input, batchSize)
	if err != nil {
		return nil, err
	}
	out, err = gorgonia.Reshape(out, []int{batchSize, ch, shape.Height(), shape.Width()})
	if err != nil {
		return nil, errors.Wrapf(err, "[%s] Can't reshape output of linear layer", gen.Name())
	}
	for _, step := range []pmgan.LayerFunc{gen.bn0, rectify, gen.conv1, gen.bn1, rectify, gen.conv2} {
		out, err = step(out, batchSize)
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// DCGANDiscriminator x => conv3x3/2(ch),lrelu => conv3x3/2(2ch) => norm,lrelu => flatten [features] (+y) => linear(1) [logits] => sigmoid
type DCGANDiscriminator struct {
	*pmgan.BaseDiscriminator
	opts     DCGANOptions
	features int

	conv1   pmgan.LayerFunc
	conv2   pmgan.LayerFunc
	norm    pmgan.LayerFunc
	flatten pmgan.LayerFunc
	fc      pmgan.LayerFunc
}

// NewDCGANDiscriminator Constructor for DCGANDiscriminator
func NewDCGANDiscriminator(g *gorgonia.ExprGraph, cfg pmgan.DiscriminatorConfig, opts DCGANOptions) (*DCGANDiscriminator, error) {
	base, err := pmgan.NewBaseDiscriminator(g, cfg)
	if err != nil {
		return nil, err
	}
	dis := &DCGANDiscriminator{BaseDiscriminator: base, opts: opts}
	if err := pmgan.Construct(dis); err != nil {
		return nil, err
	}
	return dis, nil
}

// convOut Output size of convolution with kernel 3, stride 2 and padding 1
func convOut(in int) int {
	return (in-1)/2 + 1
}

// Apply Builds sublayers of discriminator
func (dis *DCGANDiscriminator) Apply() error {
	shape := dis.ImageShape()
	if shape == nil {
		return fmt.Errorf("image shape is required")
	}
	g := dis.Graph()
	ch := dis.opts.channels()
	sn := dis.SpectralNorm()
	prefix := dis.Name()

	h, w := convOut(convOut(shape.Height())), convOut(convOut(shape.Width()))
	dis.features = 2 * ch * h * w

	conv1, err := pmgan.NewConv2d(g, prefix+"_conv1", shape.Colors(), ch, 3, 2, 1, pmgan.LayerOptions{Bias: true, SpectralNorm: sn, Activation: pmgan.LeakyRelu})
	if err != nil {
		return err
	}
	conv2, err := pmgan.NewConv2d(g, prefix+"_conv2", ch, 2*ch, 3, 2, 1, pmgan.LayerOptions{Bias: true, SpectralNorm: sn})
	if err != nil {
		return err
	}
	var norm pmgan.Sublayer
	if dis.LayerNorm() {
		norm, err = pmgan.NewLayerNorm(g, prefix+"_ln", dis.features)
	} else {
		norm, err = dis.BatchNorm(2*ch, pmgan.BatchNormOptions{})
	}
	if err != nil {
		return err
	}
	fc, err := pmgan.NewLinear(g, prefix+"_fc", dis.features+dis.opts.Classes, 1, pmgan.LayerOptions{Bias: true, SpectralNorm: sn})
	if err != nil {
		return err
	}

	if dis.conv1, err = dis.AddSublayer(conv1); err != nil {
		return err
	}
	if dis.conv2, err = dis.AddSublayer(conv2); err != nil {
		return err
	}
	if dis.norm, err = dis.AddSublayer(norm, "norm"); err != nil {
		return err
	}
	if dis.flatten, err = dis.AddSublayer(pmgan.NewFlatten(prefix + "_flatten")); err != nil {
		return err
	}
	if dis.fc, err = dis.AddSublayer(fc); err != nil {
		return err
	}
	return nil
}

// Features Size of penultimate layer output
func (dis *DCGANDiscriminator) Features() int {
	return dis.features
}

// Forward Builds discriminator part of graph
func (dis *DCGANDiscriminator) Forward(x, y *gorgonia.Node) (out, logits, features *gorgonia.Node, err error) {
	if err = dis.CheckApplied(); err != nil {
		return nil, nil, nil, err
	}
	if x == nil {
		return nil, nil, nil, fmt.Errorf("[%s] images are nil", dis.Name())
	}
	shape := dis.ImageShape()
	if x.Dims() != 4 || x.Shape()[1] != shape.Colors() || x.Shape()[2] != shape.Height() || x.Shape()[3] != shape.Width() {
		return nil, nil, nil, fmt.Errorf("[%s] images should be %v, got %v", dis.Name(), shape.NCHW(-1), x.Shape())
	}
	batchSize := x.Shape()[0]

	hidden := x
	for _, step := range []pmgan.LayerFunc{dis.conv1, dis.conv2, dis.norm, leakyRectify, dis.flatten} {
		hidden, err = step(hidden, batchSize)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	features = hidden

	conditioned, err := conditionOn(features, y, dis.opts.Classes)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "[%s]", dis.Name())
	}
	logits, err = dis.fc(conditioned, batchSize)
	if err != nil {
		return nil, nil, nil, err
	}
	out, err = gorgonia.Sigmoid(logits)
	if err != nil {
		return nil, nil, nil, errors.Wrapf(err, "[%s] Can't apply sigmoid to logits", dis.Name())
	}
	return out, logits, features, nil
}

// conditionOn Concatenates one hot labels to x along axis 1. Nil labels are allowed only for unconditional models
func conditionOn(x, y *gorgonia.Node, classes int) (*gorgonia.Node, error) {
	if classes == 0 {
		if y != nil {
			return nil, fmt.Errorf("labels are provided for unconditional model")
		}
		return x, nil
	}
	if y == nil {
		return nil, fmt.Errorf("conditional model needs labels")
	}
	if y.Dims() != 2 || y.Shape()[0] != x.Shape()[0] || y.Shape()[1] != classes {
		return nil, fmt.Errorf("labels should be [%d, %d], got %v", x.Shape()[0], classes, y.Shape())
	}
	return gorgonia.Concat(1, x, y)
}

func rectify(x *gorgonia.Node, _ int) (*gorgonia.Node, error) {
	return gorgonia.Rectify(x)
}

func leakyRectify(x *gorgonia.Node, _ int) (*gorgonia.Node, error) {
	return pmgan.LeakyRelu(x)
}
