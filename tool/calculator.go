package tool

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hupe1980/agentplan/core"
)

// CalculatorToolName is the registry name of the calculator tool.
const CalculatorToolName = "calculator"

// Supported calculator operations.
const (
	OpRatio         = "ratio"
	OpSum           = "sum"
	OpDifference    = "difference"
	OpProduct       = "product"
	OpPercentChange = "percent_change"
)

// ValidOp reports whether op is a supported calculator operation.
func ValidOp(op string) bool {
	switch op {
	case OpRatio, OpSum, OpDifference, OpProduct, OpPercentChange:
		return true
	}
	return false
}

// Calculate applies op to the operands. A nil operand yields MissingOperand,
// a zero divisor yields DivisionByZero; both are permanent.
func Calculate(op string, names []string, values []*float64) (core.CalcResult, error) {
	const opName = "calculator"
	res := core.CalcResult{Op: op, Operands: make(map[string]float64, len(values))}

	if !ValidOp(op) {
		e := core.NewError(core.ValidationFailure, opName, "unsupported operation %q", op)
		e.Permanent = true
		return res, e
	}
	if len(values) == 0 {
		return res, &core.Error{Kind: core.MissingOperand, Op: opName, Message: "no operands", Permanent: true}
	}

	nums := make([]float64, len(values))
	labels := make([]string, len(values))
	for i, v := range values {
		labels[i] = operandName(names, i)
		if v == nil {
			return res, &core.Error{Kind: core.MissingOperand, Op: opName, Message: fmt.Sprintf("operand %q is missing", labels[i]), Permanent: true}
		}
		nums[i] = *v
		res.Operands[labels[i]] = *v
	}

	binary := op == OpRatio || op == OpDifference || op == OpPercentChange
	if binary && len(nums) != 2 {
		if len(nums) < 2 {
			return res, &core.Error{Kind: core.MissingOperand, Op: opName, Message: fmt.Sprintf("%s needs two operands", op), Permanent: true}
		}
		e := core.NewError(core.ValidationFailure, opName, "%s takes exactly two operands", op)
		e.Permanent = true
		return res, e
	}

	switch op {
	case OpSum:
		for _, n := range nums {
			res.Value += n
		}
		res.Formula = strings.Join(labels, " + ")
	case OpProduct:
		res.Value = 1
		for _, n := range nums {
			res.Value *= n
		}
		res.Formula = strings.Join(labels, " * ")
	case OpDifference:
		res.Value = nums[0] - nums[1]
		res.Formula = labels[0] + " - " + labels[1]
	case OpRatio:
		if nums[1] == 0 {
			return res, &core.Error{Kind: core.DivisionByZero, Op: opName, Message: fmt.Sprintf("%s is zero", labels[1]), Permanent: true}
		}
		res.Value = nums[0] / nums[1]
		res.Formula = labels[0] + " / " + labels[1]
	case OpPercentChange:
		if nums[0] == 0 {
			return res, &core.Error{Kind: core.DivisionByZero, Op: opName, Message: fmt.Sprintf("%s is zero", labels[0]), Permanent: true}
		}
		res.Value = (nums[1] - nums[0]) / math.Abs(nums[0]) * 100
		res.Formula = fmt.Sprintf("(%s - %s) / |%s| * 100", labels[1], labels[0], labels[0])
	}

	parts := make([]string, len(labels))
	for i, l := range labels {
		parts[i] = l + "=" + formatNumber(nums[i])
	}
	res.Formula = fmt.Sprintf("%s = %s (%s)", res.Formula, formatNumber(res.Value), strings.Join(parts, ", "))
	return res, nil
}

func operandName(names []string, i int) string {
	if i < len(names) && names[i] != "" {
		return names[i]
	}
	return fmt.Sprintf("x%d", i+1)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// NewCalculatorTool returns the "calculator" tool. Arguments:
//
//	{"op": "ratio", "operands": [10, 4], "names": ["revenue", "costs"]}
//
// A null operand is reported as MissingOperand.
func NewCalculatorTool() *FunctionTool {
	return NewFunctionTool(
		CalculatorToolName,
		"Apply a fixed arithmetic operation to named numeric operands",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"op": map[string]any{
					"type":        "string",
					"enum":        []string{OpRatio, OpSum, OpDifference, OpProduct, OpPercentChange},
					"description": "arithmetic operation",
				},
				"operands": map[string]any{"type": "array", "description": "numeric operands, null for missing"},
				"names":    map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "operand names used in the formula"},
			},
			"required": []string{"op", "operands"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			op, _ := args["op"].(string)
			values, err := toOperands(args["operands"])
			if err != nil {
				return nil, err
			}
			res, err := Calculate(op, toStrings(args["names"]), values)
			if err != nil {
				return nil, &ToolError{Tool: CalculatorToolName, Message: err.Error(), Code: CodeExecution, Err: err}
			}
			return res, nil
		},
	)
}

func toOperands(raw any) ([]*float64, error) {
	var items []any
	switch v := raw.(type) {
	case []any:
		items = v
	case []*float64:
		return v, nil
	case []float64:
		out := make([]*float64, len(v))
		for i := range v {
			out[i] = &v[i]
		}
		return out, nil
	default:
		return nil, &core.Error{Kind: core.MissingOperand, Op: "calculator", Message: "operands must be a list", Permanent: true}
	}

	out := make([]*float64, len(items))
	for i, it := range items {
		switch n := it.(type) {
		case nil:
		case float64:
			out[i] = &n
		case int:
			f := float64(n)
			out[i] = &f
		case int64:
			f := float64(n)
			out[i] = &f
		case *float64:
			out[i] = n
		case string:
			f, err := ParseNumber(n)
			if err != nil {
				return nil, &core.Error{Kind: core.MissingOperand, Op: "calculator", Message: fmt.Sprintf("operand %d: %v", i+1, err), Permanent: true}
			}
			out[i] = &f
		default:
			return nil, &core.Error{Kind: core.MissingOperand, Op: "calculator", Message: fmt.Sprintf("operand %d has type %T", i+1, it), Permanent: true}
		}
	}
	return out, nil
}

func toStrings(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, len(v))
		for i, it := range v {
			out[i] = fmt.Sprint(it)
		}
		return out
	}
	return nil
}

// ParseNumber parses extracted numeric text such as "$1,250.5", "12%" or "(3.2)".
func ParseNumber(s string) (float64, error) {
	t := strings.TrimSpace(s)
	neg := false
	if strings.HasPrefix(t, "(") && strings.HasSuffix(t, ")") {
		neg = true
		t = strings.TrimSuffix(strings.TrimPrefix(t, "("), ")")
	}
	t = strings.NewReplacer(",", "", "$", "", "€", "", "£", "", "%", "", " ", "").Replace(t)
	f, err := strconv.ParseFloat(t, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if neg {
		f = -f
	}
	return f, nil
}
