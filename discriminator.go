package pmgan

import (
	"fmt"

	"gorgonia.org/gorgonia"
)

// Discriminator Interface for discriminator architectures
type Discriminator interface {
	Architecture
	// Forward Builds discriminator part of graph.
	//
	// x - real or fake images of shape [batch_size, colors, height, width]
	// y - one hot encoded labels of shape [batch_size, num_classes] or nil
	//
	// Returns the final prediction, the logits before the final output activation and logits from the second last layer
	Forward(x, y *gorgonia.Node) (out, logits, features *gorgonia.Node, err error)
	Learnables() gorgonia.Nodes
}

// DiscriminatorConfig Constructor arguments shared by all discriminator architectures
type DiscriminatorConfig struct {
	Name         string
	ImageShape   ImageShape
	BatchNorm    BatchNormFunc
	LayerNorm    bool
	SpectralNorm bool
}

// BaseDiscriminator Embeddable base for discriminator architectures.
// Concrete type should implement Apply and Forward and call Construct in its constructor.
type BaseDiscriminator struct {
	*Module
	imageShape   ImageShape
	batchNormFn  BatchNormFunc
	layerNorm    bool
	spectralNorm bool
}

// NewBaseDiscriminator Constructor for BaseDiscriminator
func NewBaseDiscriminator(g *gorgonia.ExprGraph, cfg DiscriminatorConfig) (*BaseDiscriminator, error) {
	if g == nil {
		return nil, fmt.Errorf("Discriminator needs evaluation graph")
	}
	if cfg.Name == "" {
		cfg.Name = "discriminator"
	}
	if cfg.ImageShape != nil {
		if err := cfg.ImageShape.Validate(); err != nil {
			return nil, fmt.Errorf("[%s] %s", cfg.Name, err)
		}
	}
	return &BaseDiscriminator{
		Module:       NewModule(g, cfg.Name),
		imageShape:   cfg.ImageShape,
		batchNormFn:  cfg.BatchNorm,
		layerNorm:    cfg.LayerNorm,
		spectralNorm: cfg.SpectralNorm,
	}, nil
}

func (dis *BaseDiscriminator) ImageShape() ImageShape { return dis.imageShape }
func (dis *BaseDiscriminator) LayerNorm() bool        { return dis.layerNorm }
func (dis *BaseDiscriminator) SpectralNorm() bool     { return dis.spectralNorm }

// BatchNorm Creates batch normalization sublayer for ch channels.
// Without configured factory identity (empty Sequential) is returned.
func (dis *BaseDiscriminator) BatchNorm(ch int, opts BatchNormOptions) (Sublayer, error) {
	return makeBatchNorm(dis.Module, dis.batchNormFn, dis.spectralNorm, ch, opts)
}
