package pmgan

import (
	"fmt"
	"strings"

	"gorgonia.org/gorgonia"
)

// ActivationFunc Just an alias to Gorgonia'a api_gen.go - https://github.com/gorgonia/gorgonia/blob/master/api_gen.go#L1
type ActivationFunc func(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)

// Options Struct for holding options for certain activation functions.
type Options struct {
	Axis []int
	// Alpha Slope for negative part of LeakyRelu. Zero means default (0.2)
	Alpha float64
}

func NoActivation(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) { return a, nil }
func Tanh(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)         { return gorgonia.Tanh(a) }
func Sigmoid(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)      { return gorgonia.Sigmoid(a) }
func Softplus(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)     { return gorgonia.Softplus(a) }
func Rectify(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)      { return gorgonia.Rectify(a) }
func Exp(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)          { return gorgonia.Exp(a) }
func Abs(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error)          { return gorgonia.Abs(a) }

// LeakyRelu max(x, alpha*x). First option with non-zero Alpha is used
func LeakyRelu(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) {
	alpha := 0.2
	for i := range opts {
		if opts[i].Alpha != 0 {
			alpha = opts[i].Alpha
			break
		}
	}
	return gorgonia.LeakyRelu(a, alpha)
}

func Softmax(a *gorgonia.Node, opts ...Options) (*gorgonia.Node, error) {
	for i := range opts {
		// First i-th option with provided field 'Axis' would be considered for use.
		if len(opts[i].Axis) > 0 {
			return gorgonia.SoftMax(a, opts[i].Axis...)
		}
	}
	return gorgonia.SoftMax(a)
}

var activations = map[string]ActivationFunc{
	"":             NoActivation,
	"none":         NoActivation,
	"linear":       NoActivation,
	"noactivation": NoActivation,
	"tanh":         Tanh,
	"sigmoid":      Sigmoid,
	"softplus":     Softplus,
	"relu":         Rectify,
	"leakyrelu":    LeakyRelu,
	"exp":          Exp,
	"abs":          Abs,
	"softmax":      Softmax,
}

// ActivationByName Lookup for activation function. Case and underscores are ignored: "leaky_relu" == "LeakyRelu"
func ActivationByName(name string) (ActivationFunc, error) {
	key := strings.ToLower(strings.ReplaceAll(name, "_", ""))
	fn, ok := activations[key]
	if !ok {
		return nil, fmt.Errorf("Activation function '%s' is not supported", name)
	}
	return fn, nil
}
