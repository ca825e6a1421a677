package pivot

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/xuri/efp"
)

// expressionPlaceholder matches the {field} references of a formula string.
var expressionPlaceholder = regexp.MustCompile(`\{([^{}]+)\}`)

// seriesResolver turns a placeholder token into an aligned value series.
// The second return value is the canonical column key the token resolved
// to, empty when the stage has no ledger (pre-aggregation).
type seriesResolver func(token string) ([]*float64, string, error)

// evaluateExpression evaluates a formula string against resolved operand
// series. Every {token} is replaced by a synthetic variable bound to the
// series the resolver returns; the rewritten formula is then tokenized with
// efp and interpreted over a whitelisted arithmetic grammar: numbers, unary
// minus, + - * / ^, the comparisons > < >= <= = <>, and parentheses.
// Function calls and text operands are rejected, so a caller-supplied
// formula can never reach anything but this fixed operator set.
//
// A constant-only formula (no placeholders) evaluates once and broadcasts
// across all rows. The returned key list records which ledger entries the
// formula referenced, in first-use order.
func evaluateExpression(expression string, rows int, stage Stage, resolve seriesResolver) ([]*float64, []string, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, nil, newCalcErrorf(stage, "no expression was provided for the calculation")
	}

	vars := make(map[string][]*float64)
	var referencedKeys []string
	var resolveErr error

	tokenToVar := make(map[string]string)
	rewritten := expressionPlaceholder.ReplaceAllStringFunc(expr, func(match string) string {
		if resolveErr != nil {
			return match
		}
		token := strings.TrimSpace(match[1 : len(match)-1])
		if token == "" {
			resolveErr = newCalcErrorf(stage, "the expression contains an empty identifier")
			return match
		}
		name, ok := tokenToVar[token]
		if !ok {
			series, key, err := resolve(token)
			if err != nil {
				resolveErr = err
				return match
			}
			name = fmt.Sprintf("__v%d", len(tokenToVar))
			tokenToVar[token] = name
			vars[name] = series
			if key != "" && !containsString(referencedKeys, key) {
				referencedKeys = append(referencedKeys, key)
			}
		}
		return name
	})
	if resolveErr != nil {
		return nil, nil, resolveErr
	}

	root, err := parseExpression(rewritten, vars, stage)
	if err != nil {
		return nil, nil, err
	}

	if len(tokenToVar) == 0 {
		value := evalExprNode(root, nil, 0)
		return broadcastCell(value, rows), referencedKeys, nil
	}

	out := make([]*float64, rows)
	for i := 0; i < rows; i++ {
		out[i] = evalExprNode(root, vars, i)
	}
	normalizeInfinities(out)
	return out, referencedKeys, nil
}

// exprNode is one node of the tagged expression AST.
type exprNode struct {
	kind    exprKind
	literal float64
	name    string
	op      string
	left    *exprNode
	right   *exprNode
}

type exprKind int

const (
	exprLiteral exprKind = iota
	exprVariable
	exprUnary
	exprBinary
)

// parseExpression turns the rewritten formula into an AST with a
// shunting-yard pass over the efp token stream. Anything outside the
// whitelist is a calculation error, not a fallback.
func parseExpression(expr string, vars map[string][]*float64, stage Stage) (*exprNode, error) {
	ps := efp.ExcelParser()
	tokens := ps.Parse(expr)
	if tokens == nil {
		return nil, newCalcErrorf(stage, "the expression could not be parsed")
	}

	var output []*exprNode
	var ops []string

	popOp := func() error {
		op := ops[len(ops)-1]
		ops = ops[:len(ops)-1]
		if op == "u-" {
			if len(output) < 1 {
				return newCalcErrorf(stage, "the expression is malformed")
			}
			operand := output[len(output)-1]
			output = output[:len(output)-1]
			output = append(output, &exprNode{kind: exprUnary, op: "-", left: operand})
			return nil
		}
		if len(output) < 2 {
			return newCalcErrorf(stage, "the expression is malformed")
		}
		right := output[len(output)-1]
		left := output[len(output)-2]
		output = output[:len(output)-2]
		output = append(output, &exprNode{kind: exprBinary, op: op, left: left, right: right})
		return nil
	}

	for _, token := range tokens {
		switch token.TType {
		case efp.TokenTypeWhitespace:
			continue
		case efp.TokenTypeOperand:
			switch token.TSubType {
			case efp.TokenSubTypeNumber:
				f, err := strconv.ParseFloat(token.TValue, 64)
				if err != nil {
					return nil, newCalcErrorf(stage, "invalid number %q in expression", token.TValue)
				}
				output = append(output, &exprNode{kind: exprLiteral, literal: f})
			case efp.TokenSubTypeRange:
				if _, ok := vars[token.TValue]; !ok {
					return nil, newCalcErrorf(stage, "the expression references unknown token %q", token.TValue)
				}
				output = append(output, &exprNode{kind: exprVariable, name: token.TValue})
			default:
				return nil, newCalcErrorf(stage, "operand %q is not allowed in expressions", token.TValue)
			}
		case efp.TokenTypeOperatorPrefix:
			if token.TValue != "-" {
				return nil, newCalcErrorf(stage, "prefix operator %q is not allowed in expressions", token.TValue)
			}
			ops = append(ops, "u-")
		case efp.TokenTypeOperatorInfix:
			op := token.TValue
			prec, ok := operatorPrecedence[op]
			if !ok {
				return nil, newCalcErrorf(stage, "operator %q is not allowed in expressions", op)
			}
			for len(ops) > 0 {
				top := ops[len(ops)-1]
				if top == "(" {
					break
				}
				topPrec := operatorPrecedence[top]
				if top == "u-" {
					topPrec = 5
				}
				if topPrec > prec || (topPrec == prec && !rightAssociative(op)) {
					if err := popOp(); err != nil {
						return nil, err
					}
					continue
				}
				break
			}
			ops = append(ops, op)
		case efp.TokenTypeSubexpression:
			switch token.TSubType {
			case efp.TokenSubTypeStart:
				ops = append(ops, "(")
			case efp.TokenSubTypeStop:
				closed := false
				for len(ops) > 0 {
					if ops[len(ops)-1] == "(" {
						ops = ops[:len(ops)-1]
						closed = true
						break
					}
					if err := popOp(); err != nil {
						return nil, err
					}
				}
				if !closed {
					return nil, newCalcErrorf(stage, "the expression has unbalanced parentheses")
				}
			}
		case efp.TokenTypeFunction:
			return nil, newCalcErrorf(stage, "function calls are not allowed in expressions: %q", token.TValue)
		case efp.TokenTypeOperatorPostfix:
			return nil, newCalcErrorf(stage, "postfix operator %q is not allowed in expressions", token.TValue)
		case efp.TokenTypeArgument:
			return nil, newCalcErrorf(stage, "argument separators are not allowed in expressions")
		case efp.TokenTypeNoop:
			continue
		default:
			return nil, newCalcErrorf(stage, "unexpected token %q in expression", token.TValue)
		}
	}

	for len(ops) > 0 {
		if ops[len(ops)-1] == "(" {
			return nil, newCalcErrorf(stage, "the expression has unbalanced parentheses")
		}
		if err := popOp(); err != nil {
			return nil, err
		}
	}
	if len(output) != 1 {
		return nil, newCalcErrorf(stage, "the expression is malformed")
	}
	return output[0], nil
}

var operatorPrecedence = map[string]int{
	"=": 1, "<>": 1, ">": 1, "<": 1, ">=": 1, "<=": 1,
	"+": 2, "-": 2,
	"*": 3, "/": 3,
	"^": 4,
}

func rightAssociative(op string) bool { return op == "^" }

// evalExprNode evaluates the AST for one row. Null operands propagate, a
// zero or null denominator yields null, comparisons produce 0/1.
func evalExprNode(node *exprNode, vars map[string][]*float64, row int) *float64 {
	switch node.kind {
	case exprLiteral:
		v := node.literal
		return &v
	case exprVariable:
		series := vars[node.name]
		return at(series, row)
	case exprUnary:
		v := evalExprNode(node.left, vars, row)
		if v == nil {
			return nil
		}
		neg := -*v
		return &neg
	default:
		left := evalExprNode(node.left, vars, row)
		right := evalExprNode(node.right, vars, row)
		if left == nil || right == nil {
			return nil
		}
		var out float64
		switch node.op {
		case "+":
			out = *left + *right
		case "-":
			out = *left - *right
		case "*":
			out = *left * *right
		case "/":
			if *right == 0 {
				return nil
			}
			out = *left / *right
		case "^":
			out = math.Pow(*left, *right)
		case ">":
			out = indicator(*left > *right)
		case "<":
			out = indicator(*left < *right)
		case ">=":
			out = indicator(*left >= *right)
		case "<=":
			out = indicator(*left <= *right)
		case "=":
			out = indicator(*left == *right)
		case "<>":
			out = indicator(*left != *right)
		default:
			return nil
		}
		if math.IsInf(out, 0) || math.IsNaN(out) {
			return nil
		}
		return &out
	}
}

func indicator(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func broadcastCell(v *float64, n int) []*float64 {
	out := make([]*float64, n)
	if v == nil {
		return out
	}
	for i := range out {
		c := *v
		out[i] = &c
	}
	return out
}

func containsString(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
