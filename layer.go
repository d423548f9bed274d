package pmgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Layer Just an alias to Weight+Bias+ActivationFunction combo
//
// SpectralNorm - if set then weight is divided by its estimated spectral norm before use
// ReshapeDims - target shape for LayerReshape. Leading -1 is replaced by batch size
// Probability - dropout probability for LayerDropout
type Layer struct {
	LayerName  string
	WeightNode *gorgonia.Node
	BiasNode   *gorgonia.Node
	Activation ActivationFunc
	Type       LayerType

	KernelHeight int
	KernelWidth  int
	Padding      []int
	Stride       []int
	Dilation     []int
	ReshapeDims  []int
	Probability  float64

	SpectralNorm *SpectralNorm

	params []*Parameter
}

type LayerType uint16

const (
	LayerLinear = LayerType(iota)
	LayerFlatten
	LayerConvolutional
	LayerMaxpool
	LayerReshape
	LayerDropout
)

func (t LayerType) String() string {
	switch t {
	case LayerLinear:
		return "linear"
	case LayerFlatten:
		return "flatten"
	case LayerConvolutional:
		return "conv2d"
	case LayerMaxpool:
		return "maxpool2d"
	case LayerReshape:
		return "reshape"
	case LayerDropout:
		return "dropout"
	default:
		return fmt.Sprintf("layer_type_%d", uint16(t))
	}
}

var (
	allowedNoWeights = []LayerType{LayerMaxpool, LayerFlatten, LayerReshape, LayerDropout}
)

func noWeightsAllowed(checkType LayerType) bool {
	return checkLayerType(checkType, allowedNoWeights...)
}

func checkLayerType(checkType LayerType, t ...LayerType) bool {
	for _, typeOf := range t {
		if checkType == typeOf {
			return true
		}
	}
	return false
}

// LayerOptions Options shared by layer constructors
type LayerOptions struct {
	Activation   ActivationFunc
	Bias         bool
	SpectralNorm bool
	// Init Initializer for weights. Default is GlorotN(1.0)
	Init gorgonia.InitWFn
}

func (opts LayerOptions) init() gorgonia.InitWFn {
	if opts.Init != nil {
		return opts.Init
	}
	return gorgonia.GlorotN(1.0)
}

// NewLinear Creates fully connected layer: weights are [out, in], bias is [1, out]
func NewLinear(g *gorgonia.ExprGraph, name string, in, out int, opts LayerOptions) (*Layer, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("Linear layer '%s' should have positive dimensions, got in=%d out=%d", name, in, out)
	}
	l := &Layer{
		LayerName:  name,
		Type:       LayerLinear,
		Activation: opts.Activation,
		WeightNode: gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(out, in), gorgonia.WithName(name+"_w"), gorgonia.WithInit(opts.init())),
	}
	if opts.Bias {
		l.BiasNode = gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, out), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes()))
	}
	if opts.SpectralNorm {
		sn, err := NewSpectralNorm(g, name, l.WeightNode)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't attach spectral normalization to layer '%s'", name)
		}
		l.SpectralNorm = sn
	}
	return l, nil
}

// NewConv2d Creates 2D convolution layer with square kernel. Weights are [outChannels, inChannels, kernel, kernel]
func NewConv2d(g *gorgonia.ExprGraph, name string, inChannels, outChannels, kernel, stride, padding int, opts LayerOptions) (*Layer, error) {
	if inChannels <= 0 || outChannels <= 0 || kernel <= 0 || stride <= 0 || padding < 0 {
		return nil, fmt.Errorf("Conv2d layer '%s' has bad geometry: in=%d out=%d kernel=%d stride=%d padding=%d", name, inChannels, outChannels, kernel, stride, padding)
	}
	l := &Layer{
		LayerName:    name,
		Type:         LayerConvolutional,
		Activation:   opts.Activation,
		KernelHeight: kernel,
		KernelWidth:  kernel,
		Padding:      []int{padding, padding},
		Stride:       []int{stride, stride},
		Dilation:     []int{1, 1},
		WeightNode:   gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(outChannels, inChannels, kernel, kernel), gorgonia.WithName(name+"_w"), gorgonia.WithInit(opts.init())),
	}
	if opts.Bias {
		l.BiasNode = gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(1, outChannels, 1, 1), gorgonia.WithName(name+"_b"), gorgonia.WithInit(gorgonia.Zeroes()))
	}
	if opts.SpectralNorm {
		sn, err := NewSpectralNorm(g, name, l.WeightNode)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't attach spectral normalization to layer '%s'", name)
		}
		l.SpectralNorm = sn
	}
	return l, nil
}

// NewMaxpool Creates 2D max pooling layer with square window
func NewMaxpool(name string, kernel, stride int) *Layer {
	return &Layer{
		LayerName:    name,
		Type:         LayerMaxpool,
		KernelHeight: kernel,
		KernelWidth:  kernel,
		Padding:      []int{0, 0},
		Stride:       []int{stride, stride},
	}
}

// NewFlatten Creates layer which reshapes input to [batchSize, -1]
func NewFlatten(name string) *Layer {
	return &Layer{LayerName: name, Type: LayerFlatten}
}

// NewReshape Creates reshape layer. Leading -1 in dims stands for batch size
func NewReshape(name string, dims ...int) *Layer {
	return &Layer{LayerName: name, Type: LayerReshape, ReshapeDims: dims}
}

// NewDropout Creates dropout layer
func NewDropout(name string, probability float64) *Layer {
	return &Layer{LayerName: name, Type: LayerDropout, Probability: probability}
}

// Name Returns name of layer
func (l *Layer) Name() string {
	return l.LayerName
}

// Parameters Returns weight and bias (and spectral normalization state if any)
func (l *Layer) Parameters() []*Parameter {
	if l.params != nil {
		return l.params
	}
	l.params = make([]*Parameter, 0, 3)
	if l.WeightNode != nil {
		l.params = append(l.params, &Parameter{Name: l.LayerName + "/weight", Node: l.WeightNode, Trainable: true})
	}
	if l.BiasNode != nil {
		l.params = append(l.params, &Parameter{Name: l.LayerName + "/bias", Node: l.BiasNode, Trainable: true})
	}
	if l.SpectralNorm != nil {
		l.params = append(l.params, l.SpectralNorm.Parameters()...)
	}
	return l.params
}

// Refresh Carries spectral normalization estimate into the next evaluation
func (l *Layer) Refresh() error {
	if l.SpectralNorm == nil {
		return nil
	}
	return l.SpectralNorm.Refresh()
}

func (l *Layer) weight() (*gorgonia.Node, error) {
	if l.SpectralNorm == nil {
		return l.WeightNode, nil
	}
	return l.SpectralNorm.Normalized()
}

// Fwd Initializates feedforward for provided input
//
// input - Input node
// batchSize - batch size. If it's >= 2 then broadcast function will be applied for bias
func (l *Layer) Fwd(input *gorgonia.Node, batchSize int) (*gorgonia.Node, error) {
	if input == nil {
		return nil, fmt.Errorf("Layer '%s' got nil input", l.LayerName)
	}
	if l.WeightNode == nil && !noWeightsAllowed(l.Type) {
		return nil, fmt.Errorf("Layer '%s' [%s] has nil weight node", l.LayerName, l.Type)
	}
	var nonActivated *gorgonia.Node
	var err error
	switch l.Type {
	case LayerLinear:
		w, err := l.weight()
		if err != nil {
			return nil, errors.Wrapf(err, "Can't prepare weights of layer '%s'", l.LayerName)
		}
		tOp, err := gorgonia.Transpose(w)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't transpose weights of layer '%s'", l.LayerName)
		}
		nonActivated, err = gorgonia.Mul(input, tOp)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't multiply input and weights of layer '%s'", l.LayerName)
		}
	case LayerConvolutional:
		w, err := l.weight()
		if err != nil {
			return nil, errors.Wrapf(err, "Can't prepare weights of layer '%s'", l.LayerName)
		}
		nonActivated, err = gorgonia.Conv2d(input, w, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride, l.Dilation)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't convolve[2D] input by kernel of layer '%s'", l.LayerName)
		}
	case LayerMaxpool:
		nonActivated, err = gorgonia.MaxPool2D(input, tensor.Shape{l.KernelHeight, l.KernelWidth}, l.Padding, l.Stride)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't maxpool[2D] input by kernel of layer '%s'", l.LayerName)
		}
	case LayerFlatten:
		if batchSize <= 0 {
			return nil, fmt.Errorf("Can't flatten input of layer '%s' with batch size %d", l.LayerName, batchSize)
		}
		nonActivated, err = gorgonia.Reshape(input, tensor.Shape{batchSize, input.Shape().TotalSize() / batchSize})
		if err != nil {
			return nil, errors.Wrapf(err, "Can't flatten input of layer '%s'", l.LayerName)
		}
	case LayerReshape:
		dims := make(tensor.Shape, len(l.ReshapeDims))
		copy(dims, l.ReshapeDims)
		if len(dims) > 0 && dims[0] == -1 {
			dims[0] = batchSize
		}
		nonActivated, err = gorgonia.Reshape(input, dims)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't reshape input of layer '%s' to %v", l.LayerName, dims)
		}
	case LayerDropout:
		nonActivated, err = gorgonia.Dropout(input, l.Probability)
		if err != nil {
			return nil, errors.Wrapf(err, "Can't apply dropout to input of layer '%s'", l.LayerName)
		}
	default:
		return nil, fmt.Errorf("Layer '%s' type '%d' (uint16) is not handled", l.LayerName, l.Type)
	}
	gorgonia.WithName(l.LayerName)(nonActivated)

	if l.BiasNode != nil {
		if batchSize < 2 && l.Type == LayerLinear {
			nonActivated, err = gorgonia.Add(nonActivated, l.BiasNode)
			if err != nil {
				return nil, errors.Wrapf(err, "Can't add bias to non-activated output of layer '%s'", l.LayerName)
			}
		} else {
			pattern := []byte{0}
			if l.Type == LayerConvolutional {
				pattern = []byte{0, 2, 3}
			}
			nonActivated, err = gorgonia.BroadcastAdd(nonActivated, l.BiasNode, nil, pattern)
			if err != nil {
				return nil, errors.Wrapf(err, "Can't add [in broadcast term with batch_size = %d] bias to non-activated output of layer '%s'", batchSize, l.LayerName)
			}
		}
	}

	activation := l.Activation
	if activation == nil {
		activation = NoActivation
	}
	activated, err := activation(nonActivated)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't apply activation function to non-activated output of layer '%s'", l.LayerName)
	}
	if activated != nonActivated {
		gorgonia.WithName(l.LayerName + "_activated")(activated)
	}
	return activated, nil
}
