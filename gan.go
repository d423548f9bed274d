package pmgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// GAN Generator and discriminator sharing one evaluation graph: D(G(z, y), y).
//
// Only generator's learnables should be updated on this graph. Discriminator is expected to be trained
// on its own graph, its values are brought here by SyncParameters.
//
// fake - generator output
// out, logits, features - discriminator outputs for generated samples
type GAN struct {
	generator     Generator
	discriminator Discriminator

	fake     *gorgonia.Node
	out      *gorgonia.Node
	logits   *gorgonia.Node
	features *gorgonia.Node
}

// NewGAN Constructor for GAN. Both parts should be applied and should live on the same graph
func NewGAN(generator Generator, discriminator Discriminator) (*GAN, error) {
	if generator == nil || discriminator == nil {
		return nil, fmt.Errorf("GAN needs both generator and discriminator")
	}
	for _, arch := range []Architecture{generator, discriminator} {
		if err := arch.base().CheckApplied(); err != nil {
			return nil, errors.Wrap(err, "Can't define GAN")
		}
	}
	if generator.base().graph != discriminator.base().graph {
		return nil, fmt.Errorf("Generator '%s' and discriminator '%s' should be defined on the same graph", generator.Name(), discriminator.Name())
	}
	return &GAN{
		generator:     generator,
		discriminator: discriminator,
	}, nil
}

// Fwd Initializates feedforward for latent code z and labels y (could be nil)
func (net *GAN) Fwd(z, y *gorgonia.Node) error {
	fake, err := net.generator.Forward(z, y)
	if err != nil {
		return errors.Wrap(err, "[GAN] Can't feedforward generator part")
	}
	out, logits, features, err := net.discriminator.Forward(fake, y)
	if err != nil {
		return errors.Wrap(err, "[GAN] Can't feedforward discriminator part")
	}
	net.fake = fake
	net.out = out
	net.logits = logits
	net.features = features
	return nil
}

// Out Returns reference to discriminator's prediction for generated samples
func (net *GAN) Out() *gorgonia.Node {
	return net.out
}

// Logits Returns reference to discriminator's logits for generated samples
func (net *GAN) Logits() *gorgonia.Node {
	return net.logits
}

// Features Returns reference to output of discriminator's second last layer for generated samples
func (net *GAN) Features() *gorgonia.Node {
	return net.features
}

// GeneratorOut Returns reference to output node of generator part
func (net *GAN) GeneratorOut() *gorgonia.Node {
	return net.fake
}

// GeneratorLearnables Returns learnables nodes of generator part
func (net *GAN) GeneratorLearnables() gorgonia.Nodes {
	return net.generator.Learnables()
}

// DiscriminatorParameters Returns every parameter of discriminator part
func (net *GAN) DiscriminatorParameters() []*Parameter {
	return net.discriminator.base().Parameters()
}

// SyncParameters Copies values of src parameters into dst ones. Both should be produced by the same architecture
// (e.g. discriminator defined twice on different graphs), so parameters are matched by names.
func SyncParameters(dst, src []*Parameter) error {
	if len(dst) != len(src) {
		return fmt.Errorf("Can't sync %d parameters with %d ones", len(dst), len(src))
	}
	byName := make(map[string]*Parameter, len(src))
	for _, p := range src {
		byName[p.Name] = p
	}
	for _, d := range dst {
		s, ok := byName[d.Name]
		if !ok {
			return fmt.Errorf("There is no source for parameter '%s'", d.Name)
		}
		if !d.Node.Shape().Eq(s.Node.Shape()) {
			return fmt.Errorf("Shapes of parameter '%s' differ: %v and %v", d.Name, d.Node.Shape(), s.Node.Shape())
		}
		if s.Node.Value() == nil {
			return fmt.Errorf("Source parameter '%s' has no value", d.Name)
		}
		v, err := gorgonia.CloneValue(s.Node.Value())
		if err != nil {
			return errors.Wrapf(err, "Can't copy value of parameter '%s'", d.Name)
		}
		if err := gorgonia.Let(d.Node, v); err != nil {
			return errors.Wrapf(err, "Can't bind value of parameter '%s'", d.Name)
		}
	}
	return nil
}
