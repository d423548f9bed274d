package pmgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

// Sequential Simple sequence of sublayers. Empty Sequential is identity.
//
// out - alias to output of last sublayer after Fwd
type Sequential struct {
	SeqName string
	Layers  []Sublayer
	out     *gorgonia.Node
}

// NewSequential Constructor for Sequential
func NewSequential(name string, layers ...Sublayer) *Sequential {
	return &Sequential{
		SeqName: name,
		Layers:  layers,
	}
}

// Name Returns name of sequence. Default is "sequential"
func (net *Sequential) Name() string {
	if net.SeqName == "" {
		return "sequential"
	}
	return net.SeqName
}

// Out Returns reference to output node
func (net *Sequential) Out() *gorgonia.Node {
	return net.out
}

// Parameters Returns parameters of every sublayer
func (net *Sequential) Parameters() []*Parameter {
	params := make([]*Parameter, 0, 2*len(net.Layers))
	for _, l := range net.Layers {
		if l != nil {
			params = append(params, l.Parameters()...)
		}
	}
	return params
}

// Learnables Returns learnables nodes
func (net *Sequential) Learnables() gorgonia.Nodes {
	learnables := make(gorgonia.Nodes, 0, 2*len(net.Layers))
	for _, p := range net.Parameters() {
		if p.IsTrainable() {
			learnables = append(learnables, p.Node)
		}
	}
	return learnables
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied
func (net *Sequential) Fwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	last := input
	for i, l := range net.Layers {
		if l == nil {
			return nil, fmt.Errorf("%s's layer #%d is nil", net.Name(), i)
		}
		out, err := l.Fwd(last, batchSize)
		if err != nil {
			return nil, errors.Wrapf(err, "[%s, Layer #%d] Can't feedforward input", net.Name(), i)
		}
		last = out
	}
	net.out = last
	return last, nil
}

// SetTraining Switches sublayers which distinguish training and testing modes
func (net *Sequential) SetTraining(training bool) {
	for _, l := range net.Layers {
		if t, ok := l.(interface{ SetTraining(bool) }); ok {
			t.SetTraining(training)
		}
	}
}

// Refresh Refreshes state of every sublayer which carries it between evaluations
func (net *Sequential) Refresh() error {
	for i, l := range net.Layers {
		if r, ok := l.(interface{ Refresh() error }); ok {
			if err := r.Refresh(); err != nil {
				return errors.Wrapf(err, "[%s, Layer #%d] Can't refresh", net.Name(), i)
			}
		}
	}
	return nil
}
