package optimization

import "strings"

// Method is an optimization algorithm resolved once when a context is
// created. The zero value is MethodSGD, which is also where unknown names
// land.
type Method int

const (
	MethodSGD Method = iota
	MethodMomentum
	MethodNesterov
	MethodAdaGrad
	MethodRMSProp
	MethodAdam
	MethodAdamW
	MethodNewton
	MethodBFGS
	MethodLBFGS
	MethodCG
	MethodGenetic
	MethodPSO
	MethodAnnealing
	MethodCMAES
)

// Family groups methods that share one iterative loop.
type Family int

const (
	FirstOrder Family = iota
	SecondOrder
	// Population methods sample the objective and ignore its gradient.
	Population
)

func (f Family) String() string {
	switch f {
	case SecondOrder:
		return "second_order"
	case Population:
		return "population"
	default:
		return "first_order"
	}
}

var methodNames = map[Method]string{
	MethodSGD:      "sgd",
	MethodMomentum: "momentum",
	MethodNesterov: "nag",
	MethodAdaGrad:  "adagrad",
	MethodRMSProp:  "rmsprop",
	MethodAdam:     "adam",
	MethodAdamW:    "adamw",
	MethodNewton:   "newton",
	MethodBFGS:     "bfgs",
	MethodLBFGS:    "lbfgs",
	MethodCG:       "cg",

	MethodGenetic:   "genetic",
	MethodPSO:       "pso",
	MethodAnnealing: "sa",
	MethodCMAES:     "cmaes",
}

var methodAliases = map[string]Method{
	"gradient_descent":    MethodSGD,
	"nesterov":            MethodNesterov,
	"l-bfgs":              MethodLBFGS,
	"l_bfgs":              MethodLBFGS,
	"conjugate_gradient":  MethodCG,
	"genetic_algorithm":   MethodGenetic,
	"ga":                  MethodGenetic,
	"particle_swarm":      MethodPSO,
	"simulated_annealing": MethodAnnealing,
	"annealing":           MethodAnnealing,
	"cma_es":              MethodCMAES,
	"cma-es":              MethodCMAES,
}

// ParseMethod resolves a method name. It reports false and returns
// MethodSGD for names it does not recognize.
func ParseMethod(name string) (Method, bool) {
	n := strings.ToLower(strings.TrimSpace(name))
	for m, s := range methodNames {
		if s == n {
			return m, true
		}
	}
	if m, ok := methodAliases[n]; ok {
		return m, true
	}
	return MethodSGD, false
}

func (m Method) String() string {
	if s, ok := methodNames[m]; ok {
		return s
	}
	return "sgd"
}

// Family reports which loop runs the method.
func (m Method) Family() Family {
	switch m {
	case MethodNewton, MethodBFGS, MethodLBFGS, MethodCG:
		return SecondOrder
	case MethodGenetic, MethodPSO, MethodAnnealing, MethodCMAES:
		return Population
	default:
		return FirstOrder
	}
}
