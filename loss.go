package pmgan

import (
	"fmt"

	"github.com/pkg/errors"
	"gorgonia.org/gorgonia"
)

type LossReduction uint16

const (
	LossReductionSum = LossReduction(iota)
	LossReductionMean
)

// reduce Default reduction is 'mean'
func reduce(x *gorgonia.Node, reduction []LossReduction) (*gorgonia.Node, error) {
	reductionDefault := LossReductionMean
	if len(reduction) != 0 {
		reductionDefault = reduction[0]
	}
	switch reductionDefault {
	case LossReductionSum:
		return gorgonia.Sum(x)
	case LossReductionMean:
		return gorgonia.Mean(x)
	default:
		return nil, fmt.Errorf("Reduction type %d is not supported", reductionDefault)
	}
}

// scalarLike Value is part of the name: graph deduplicates input nodes with equal names
func scalarLike(a *gorgonia.Node, v float64, name string) *gorgonia.Node {
	return gorgonia.NewScalar(a.Graph(), a.Dtype(), gorgonia.WithValue(v), gorgonia.WithName(fmt.Sprintf("%s_%g", name, v)))
}

// MSELoss See ref. https://en.wikipedia.org/wiki/Mean_squared_error
func MSELoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	sqr, err := gorgonia.Square(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	return reduce(sqr, reduction)
}

// CrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy
// a - predicted probabilities, b - one hot targets
func CrossEntropyLoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	log, err := gorgonia.Log(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(A)")
	}
	neg, err := gorgonia.Neg(log)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	hprod, err := gorgonia.HadamardProd(neg, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}
	return reduce(hprod, reduction)
}

// L1Loss See ref. https://en.wikipedia.org/wiki/Least_absolute_deviations
func L1Loss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	abs, err := gorgonia.Abs(sub)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do |x|")
	}
	return reduce(abs, reduction)
}

// BinaryCrossEntropyLoss See ref. https://en.wikipedia.org/wiki/Cross_entropy#Cross-entropy_loss_function_and_logistic_regression
// a - probabilities, b - targets in [0, 1]
func BinaryCrossEntropyLoss(a, b *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	logMain, err := gorgonia.Log(a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(A)")
	}
	hprodMain, err := gorgonia.HadamardProd(logMain, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*B)")
	}
	one := scalarLike(a, 1.0, "bce_one")
	oneSubA, err := gorgonia.Sub(one, a)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-A)")
	}
	logBin, err := gorgonia.Log(oneSubA)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(1-A)")
	}
	oneSubB, err := gorgonia.Sub(one, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-B)")
	}
	hprodBin, err := gorgonia.HadamardProd(logBin, oneSubB)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x.*(1-B))")
	}
	sum, err := gorgonia.Add(hprodMain, hprodBin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x+y)")
	}
	neg, err := gorgonia.Neg(sum)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	return reduce(neg, reduction)
}

// HuberLoss Pseudo Huber Loss - see ref. https://en.wikipedia.org/wiki/Huber_loss#Pseudo-Huber_loss_function
func HuberLoss(a, b *gorgonia.Node, delta float64, reduction ...LossReduction) (*gorgonia.Node, error) {
	deltaScalar := scalarLike(a, delta, "huber_delta")
	sqrDelta := scalarLike(a, delta*delta, "huber_delta_sqr")
	one := scalarLike(a, 1.0, "huber_one")

	sub, err := gorgonia.Sub(a, b)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (A-B)")
	}
	div, err := gorgonia.Div(sub, deltaScalar)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X/delta)")
	}
	sqr, err := gorgonia.Square(div)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (x^2)")
	}
	addOne, err := gorgonia.Add(one, sqr)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1.+X)")
	}
	sqrt, err := gorgonia.Sqrt(addOne)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do sqrt(x)")
	}
	subOne, err := gorgonia.Sub(sqrt, one)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (X.-1)")
	}
	scaled, err := gorgonia.Mul(sqrDelta, subOne)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (delta^2*x)")
	}
	return reduce(scaled, reduction)
}

// NonSaturatingGeneratorLoss -log(D(G(z))). fake - discriminator's probabilities for generated samples
func NonSaturatingGeneratorLoss(fake *gorgonia.Node, reduction ...LossReduction) (*gorgonia.Node, error) {
	logFake, err := gorgonia.Log(fake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do log(D(G(z)))")
	}
	neg, err := gorgonia.Neg(logFake)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do -1*x")
	}
	return reduce(neg, reduction)
}

// HingeDiscriminatorLoss mean(relu(1-D(x))) + mean(relu(1+D(G(z)))) on logits
func HingeDiscriminatorLoss(realLogits, fakeLogits *gorgonia.Node) (*gorgonia.Node, error) {
	one := scalarLike(realLogits, 1.0, "hinge_one")
	realMargin, err := gorgonia.Sub(one, realLogits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1-real)")
	}
	realRelu, err := gorgonia.Rectify(realMargin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do relu(1-real)")
	}
	fakeMargin, err := gorgonia.Add(one, fakeLogits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do (1+fake)")
	}
	fakeRelu, err := gorgonia.Rectify(fakeMargin)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do relu(1+fake)")
	}
	realMean, err := gorgonia.Mean(realRelu)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(real)")
	}
	fakeMean, err := gorgonia.Mean(fakeRelu)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(fake)")
	}
	return gorgonia.Add(realMean, fakeMean)
}

// HingeGeneratorLoss -mean(D(G(z))) on logits
func HingeGeneratorLoss(fakeLogits *gorgonia.Node) (*gorgonia.Node, error) {
	mean, err := gorgonia.Mean(fakeLogits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(fake)")
	}
	return gorgonia.Neg(mean)
}

// WassersteinDiscriminatorLoss mean(D(G(z))) - mean(D(x)) on logits
func WassersteinDiscriminatorLoss(realLogits, fakeLogits *gorgonia.Node) (*gorgonia.Node, error) {
	realMean, err := gorgonia.Mean(realLogits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(real)")
	}
	fakeMean, err := gorgonia.Mean(fakeLogits)
	if err != nil {
		return nil, errors.Wrap(err, "Can't do mean(fake)")
	}
	return gorgonia.Sub(fakeMean, realMean)
}

// WassersteinGeneratorLoss -mean(D(G(z))) on logits
func WassersteinGeneratorLoss(fakeLogits *gorgonia.Node) (*gorgonia.Node, error) {
	return HingeGeneratorLoss(fakeLogits)
}
