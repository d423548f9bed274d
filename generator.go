package pmgan

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// ImageShape Shape of a single image: [height, width, colors]
type ImageShape []int

// Validate Checks that shape has three positive dimensions
func (s ImageShape) Validate() error {
	if len(s) != 3 {
		return fmt.Errorf("Image shape should be [height, width, colors], got %v", []int(s))
	}
	for i, d := range s {
		if d <= 0 {
			return fmt.Errorf("Image shape dimension #%d should be positive, got %v", i, []int(s))
		}
	}
	return nil
}

func (s ImageShape) Height() int { return s[0] }
func (s ImageShape) Width() int  { return s[1] }
func (s ImageShape) Colors() int { return s[2] }

// Size Number of values in single image
func (s ImageShape) Size() int {
	return s[0] * s[1] * s[2]
}

// NCHW Shape of images batch in gorgonia's layout: [batch, colors, height, width]
func (s ImageShape) NCHW(batchSize int) []int {
	return []int{batchSize, s[2], s[0], s[1]}
}

// Generator Interface for generator architectures
type Generator interface {
	Architecture
	// Forward Builds generator part of graph.
	//
	// z - latent code of shape [batch_size, z_dim]
	// y - one hot encoded labels of shape [batch_size, num_classes] or nil
	//
	// Returns generated images of shape ImageShape().NCHW(batch_size)
	Forward(z, y *gorgonia.Node) (*gorgonia.Node, error)
	ImageShape() ImageShape
	Learnables() gorgonia.Nodes
}

// GeneratorConfig Constructor arguments shared by all generator architectures
//
// Name - scope name of generator. Default is "generator"
// ImageShape - shape of images to be generated, [height, width, colors]
// BatchNorm - factory for batch normalization or nil
// SpectralNorm - if true then spectral normalization is used for all weights
type GeneratorConfig struct {
	Name         string
	ImageShape   ImageShape
	BatchNorm    BatchNormFunc
	SpectralNorm bool
}

// BaseGenerator Embeddable base for generator architectures.
// Concrete type should implement Apply and Forward and call Construct in its constructor.
type BaseGenerator struct {
	*Module
	imageShape   ImageShape
	batchNormFn  BatchNormFunc
	spectralNorm bool
}

// NewBaseGenerator Constructor for BaseGenerator
func NewBaseGenerator(g *gorgonia.ExprGraph, cfg GeneratorConfig) (*BaseGenerator, error) {
	if g == nil {
		return nil, fmt.Errorf("Generator needs evaluation graph")
	}
	if cfg.Name == "" {
		cfg.Name = "generator"
	}
	if cfg.ImageShape != nil {
		if err := cfg.ImageShape.Validate(); err != nil {
			return nil, fmt.Errorf("[%s] %s", cfg.Name, err)
		}
	}
	return &BaseGenerator{
		Module:       NewModule(g, cfg.Name),
		imageShape:   cfg.ImageShape,
		batchNormFn:  cfg.BatchNorm,
		spectralNorm: cfg.SpectralNorm,
	}, nil
}

// ImageShape Returns shape of images to be generated
func (gen *BaseGenerator) ImageShape() ImageShape {
	return gen.imageShape
}

// SpectralNorm Returns true if spectral normalization should be used for weights
func (gen *BaseGenerator) SpectralNorm() bool {
	return gen.spectralNorm
}

// BatchNorm Creates batch normalization sublayer for ch channels.
// Without configured factory identity (empty Sequential) is returned.
func (gen *BaseGenerator) BatchNorm(ch int, opts BatchNormOptions) (Sublayer, error) {
	return makeBatchNorm(gen.Module, gen.batchNormFn, gen.spectralNorm, ch, opts)
}
