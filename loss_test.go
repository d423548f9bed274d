package pmgan

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func column(g *gorgonia.ExprGraph, name string, values ...float64) *gorgonia.Node {
	return gorgonia.NewMatrix(g, gorgonia.Float64, gorgonia.WithShape(len(values), 1), gorgonia.WithName(name), gorgonia.WithValue(tensor.New(tensor.WithShape(len(values), 1), tensor.WithBacking(values))))
}

// evalScalars Evaluates graph once and returns values of provided scalar nodes
func evalScalars(t *testing.T, g *gorgonia.ExprGraph, nodes ...*gorgonia.Node) []float64 {
	values := make([]gorgonia.Value, len(nodes))
	for i := range nodes {
		gorgonia.Read(nodes[i], &values[i])
	}
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	require.NoError(t, vm.RunAll())
	res := make([]float64, len(nodes))
	for i := range values {
		res[i] = values[i].Data().(float64)
	}
	return res
}

func TestRegressionLosses(t *testing.T) {
	g := gorgonia.NewGraph()
	a := column(g, "a", 1, 2, -1)
	b := column(g, "b", 0, 0, 1)

	mse, err := MSELoss(a, b)
	require.NoError(t, err)
	mseSum, err := MSELoss(a, b, LossReductionSum)
	require.NoError(t, err)
	l1, err := L1Loss(a, b)
	require.NoError(t, err)
	huberSame, err := HuberLoss(a, a, 1.0)
	require.NoError(t, err)
	huber, err := HuberLoss(a, b, 2.0, LossReductionSum)
	require.NoError(t, err)
	_, err = MSELoss(a, b, LossReduction(7))
	assert.Error(t, err)

	res := evalScalars(t, g, mse, mseSum, l1, huberSame, huber)
	assert.InDelta(t, 3, res[0], 1e-9)
	assert.InDelta(t, 9, res[1], 1e-9)
	assert.InDelta(t, 5.0/3.0, res[2], 1e-9)
	assert.InDelta(t, 0, res[3], 1e-9)
	// delta^2 * (sqrt(1 + (d/delta)^2) - 1) for d = 1, 2, -2
	expected := 4 * ((math.Sqrt(1.25) - 1) + 2*(math.Sqrt(2)-1))
	assert.InDelta(t, expected, res[4], 1e-9)
}

func TestCrossEntropyLosses(t *testing.T) {
	g := gorgonia.NewGraph()
	probs := column(g, "probs", 0.5, 0.9, 0.2)
	targets := column(g, "targets", 1, 1, 0)

	bce, err := BinaryCrossEntropyLoss(probs, targets)
	require.NoError(t, err)
	ce, err := CrossEntropyLoss(probs, targets, LossReductionSum)
	require.NoError(t, err)
	ns, err := NonSaturatingGeneratorLoss(probs)
	require.NoError(t, err)

	res := evalScalars(t, g, bce, ce, ns)
	assert.InDelta(t, -(math.Log(0.5)+math.Log(0.9)+math.Log(0.8))/3, res[0], 1e-9)
	assert.InDelta(t, -(math.Log(0.5) + math.Log(0.9)), res[1], 1e-9)
	assert.InDelta(t, -(math.Log(0.5)+math.Log(0.9)+math.Log(0.2))/3, res[2], 1e-9)
}

func TestAdversarialLogitLosses(t *testing.T) {
	g := gorgonia.NewGraph()
	realLogits := column(g, "real", 2, 0)
	fakeLogits := column(g, "fake", -2, 0.5)

	hingeD, err := HingeDiscriminatorLoss(realLogits, fakeLogits)
	require.NoError(t, err)
	hingeG, err := HingeGeneratorLoss(fakeLogits)
	require.NoError(t, err)
	wassersteinD, err := WassersteinDiscriminatorLoss(realLogits, fakeLogits)
	require.NoError(t, err)
	wassersteinG, err := WassersteinGeneratorLoss(fakeLogits)
	require.NoError(t, err)

	res := evalScalars(t, g, hingeD, hingeG, wassersteinD, wassersteinG)
	// real: relu(1-2)=0, relu(1-0)=1; fake: relu(1-2)=0, relu(1+0.5)=1.5
	assert.InDelta(t, 0.5+0.75, res[0], 1e-9)
	assert.InDelta(t, 0.75, res[1], 1e-9)
	assert.InDelta(t, -0.75-1, res[2], 1e-9)
	assert.InDelta(t, 0.75, res[3], 1e-9)
}
