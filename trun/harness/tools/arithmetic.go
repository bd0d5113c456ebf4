package tools

import (
	"context"
	"errors"

	ports "github.com/ZanzyTHEbar/toolrun/trun/harness/ports"
)

var ErrDivisionByZero = errors.New("division by zero")

var operands = ports.Schema{
	"num1": {Type: ports.TypeNumber, Required: true, Description: "The first number"},
	"num2": {Type: ports.TypeNumber, Required: true, Description: "The second number"},
}

// Arithmetic returns the four basic math tools.
func Arithmetic() []ports.ToolSpec {
	return []ports.ToolSpec{
		binaryOp("addNumbers", "Add two numbers and return the sum", "sum",
			func(a, b float64) (float64, error) { return a + b, nil }),
		binaryOp("subNumbers", "Subtract the second number from the first and return the difference", "diff",
			func(a, b float64) (float64, error) { return a - b, nil }),
		binaryOp("multNumbers", "Multiply two numbers and return the product", "crossProd",
			func(a, b float64) (float64, error) { return a * b, nil }),
		binaryOp("divNumbers", "Divide the first number by the second and return the quotient", "div",
			func(a, b float64) (float64, error) {
				if b == 0 {
					return 0, ErrDivisionByZero
				}
				return a / b, nil
			}),
	}
}

// binaryOp builds a tool reporting {"num1", "num2", resultKey}.
func binaryOp(name, description, resultKey string, op func(a, b float64) (float64, error)) ports.ToolSpec {
	return ports.ToolSpec{
		Name:        name,
		Description: description,
		Parameters:  operands,
		Idempotent:  true,
		Handler: func(ctx context.Context, args ports.Arguments) (any, error) {
			a, _ := args.Float("num1")
			b, _ := args.Float("num2")
			v, err := op(a, b)
			if err != nil {
				return nil, err
			}
			return map[string]float64{"num1": a, "num2": b, resultKey: v}, nil
		},
	}
}
