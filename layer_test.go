package pmgan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func TestLinearForward(t *testing.T) {
	g := gorgonia.NewGraph()
	fc, err := NewLinear(g, "fc", 3, 2, LayerOptions{Bias: true})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, []int(fc.WeightNode.Shape()))
	assert.Equal(t, []int{1, 2}, []int(fc.BiasNode.Shape()))

	require.NoError(t, gorgonia.Let(fc.WeightNode, tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{
		1, 0, -1,
		0.5, 0.5, 0.5,
	}))))
	require.NoError(t, gorgonia.Let(fc.BiasNode, tensor.New(tensor.WithShape(1, 2), tensor.WithBacking([]float64{10, -10}))))

	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 3), gorgonia.WithName("x"), gorgonia.WithValue(tensor.New(tensor.WithShape(2, 3), tensor.WithBacking([]float64{
		1, 2, 3,
		4, 4, 4,
	}))))
	out, err := fc.Fwd(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 2}, []int(out.Shape()))

	var outVal gorgonia.Value
	gorgonia.Read(out, &outVal)
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	assert.InDeltaSlice(t, []float64{8, -7, 10, -4}, outVal.Data().([]float64), 1e-9)
}

func TestLinearSingleSample(t *testing.T) {
	g := gorgonia.NewGraph()
	fc, err := NewLinear(g, "fc", 4, 3, LayerOptions{Bias: true, Activation: Sigmoid})
	require.NoError(t, err)
	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(1, 4), gorgonia.WithName("x"))
	out, err := fc.Fwd(x, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3}, []int(out.Shape()))
	assert.Equal(t, "fc_activated", out.Name())

	_, err = NewLinear(g, "empty", 0, 3, LayerOptions{})
	assert.Error(t, err)
}

func TestConvAndPoolShapes(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewTensor(g, gorgonia.Float64, 4, gorgonia.WithShape(2, 1, 10, 8), gorgonia.WithName("x"))

	conv, err := NewConv2d(g, "conv", 1, 4, 3, 2, 1, LayerOptions{Bias: true, Activation: LeakyRelu})
	require.NoError(t, err)
	assert.Equal(t, []int{4, 1, 3, 3}, []int(conv.WeightNode.Shape()))
	assert.Equal(t, []int{1, 4, 1, 1}, []int(conv.BiasNode.Shape()))
	out, err := conv.Fwd(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 5, 4}, []int(out.Shape()))

	pool := NewMaxpool("pool", 2, 2)
	pooled, err := pool.Fwd(x, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 5, 4}, []int(pooled.Shape()))

	flat, err := NewFlatten("flat").Fwd(out, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 80}, []int(flat.Shape()))

	reshaped, err := NewReshape("reshape", -1, 4, 4, 5).Fwd(flat, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 4, 4, 5}, []int(reshaped.Shape()))

	dropped, err := NewDropout("dropout", 0.3).Fwd(flat, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 80}, []int(dropped.Shape()))

	_, err = NewConv2d(g, "bad", 1, 4, 3, 0, 1, LayerOptions{})
	assert.Error(t, err)
}

func TestLayerParameters(t *testing.T) {
	g := gorgonia.NewGraph()
	conv, err := NewConv2d(g, "conv", 3, 8, 3, 1, 1, LayerOptions{SpectralNorm: true})
	require.NoError(t, err)
	params := conv.Parameters()
	require.Len(t, params, 2)
	assert.Equal(t, "conv/weight", params[0].Name)
	assert.True(t, params[0].IsTrainable())
	assert.Equal(t, "conv/sn_u", params[1].Name)
	assert.False(t, params[1].IsTrainable())
	// Parameters are cached, so changes are visible for next callers
	params[0].StopGradient = true
	assert.False(t, conv.Parameters()[0].IsTrainable())

	assert.Empty(t, NewFlatten("flat").Parameters())
}

func TestLayerErrors(t *testing.T) {
	g := gorgonia.NewGraph()
	x := gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(2, 3), gorgonia.WithName("x"))

	_, err := (&Layer{LayerName: "no_weights", Type: LayerLinear}).Fwd(x, 2)
	assert.Error(t, err)
	_, err = NewFlatten("flat").Fwd(nil, 2)
	assert.Error(t, err)
	_, err = NewFlatten("flat").Fwd(x, 0)
	assert.Error(t, err)
	_, err = (&Layer{LayerName: "unknown", Type: LayerType(42), WeightNode: x}).Fwd(x, 2)
	assert.Error(t, err)
}

func TestLayerTypeString(t *testing.T) {
	assert.Equal(t, "linear", LayerLinear.String())
	assert.Equal(t, "conv2d", LayerConvolutional.String())
	assert.Equal(t, "layer_type_42", LayerType(42).String())
	assert.True(t, noWeightsAllowed(LayerDropout))
	assert.False(t, noWeightsAllowed(LayerConvolutional))
}

func TestActivationByName(t *testing.T) {
	for _, name := range []string{"tanh", "Sigmoid", "leaky_relu", "LeakyReLU", "softmax", "no_activation"} {
		fn, err := ActivationByName(name)
		require.NoError(t, err, name)
		assert.NotNil(t, fn)
	}
	_, err := ActivationByName("swish")
	assert.Error(t, err)
}
