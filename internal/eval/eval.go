package eval

import (
	"context"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/expr-lang/expr"

	"github.com/lk2023060901/lanchat-go/pkg/util/merr"
)

// DefaultMaxExpressionLength 为表达式的缺省最大长度（字节）。
const DefaultMaxExpressionLength = 256

// allowedChars 为算术表达式允许出现的字符。
const allowedChars = "0123456789.+-*/%() \t"

// Evaluator 计算一段文本并返回结果的文本形式。
type Evaluator interface {
	Evaluate(ctx context.Context, text string) (string, error)
}

// Arithmetic 是只接受四则运算与取模的受限求值器。
//
// 表达式中只允许数字、小数点、括号和 + - * / % 运算符，
// 其余字符（包括标识符与函数调用）一律拒绝。
type Arithmetic struct {
	maxLength int
}

var _ Evaluator = (*Arithmetic)(nil)

// NewArithmetic 创建求值器，maxLength <= 0 时使用 DefaultMaxExpressionLength。
func NewArithmetic(maxLength int) *Arithmetic {
	if maxLength <= 0 {
		maxLength = DefaultMaxExpressionLength
	}
	return &Arithmetic{maxLength: maxLength}
}

// Evaluate 实现 Evaluator.Evaluate。
func (a *Arithmetic) Evaluate(ctx context.Context, text string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := a.check(text); err != nil {
		return "", err
	}

	program, err := expr.Compile(text, checkedIntOps...)
	if err != nil {
		return "", merr.WrapErrEvaluation(text, err.Error())
	}
	out, err := expr.Run(program, nil)
	if err != nil {
		return "", merr.WrapErrEvaluation(text, err.Error())
	}
	return format(text, out)
}

// checkedIntOps 把整数之间的 + - * 换成带溢出检查的函数，溢出时求值失败而不是回绕。
// 函数名含字母，用户输入无法直接调用。
var checkedIntOps = []expr.Option{
	expr.Function("addInt", intOp(addInt), new(func(int, int) int)),
	expr.Function("subInt", intOp(subInt), new(func(int, int) int)),
	expr.Function("mulInt", intOp(mulInt), new(func(int, int) int)),
	expr.Operator("+", "addInt"),
	expr.Operator("-", "subInt"),
	expr.Operator("*", "mulInt"),
}

var errIntOverflow = errors.New("integer overflow")

func intOp(op func(x, y int) (int, bool)) func(params ...any) (any, error) {
	return func(params ...any) (any, error) {
		r, ok := op(params[0].(int), params[1].(int))
		if !ok {
			return nil, errIntOverflow
		}
		return r, nil
	}
}

func addInt(x, y int) (int, bool) {
	r := x + y
	return r, (r > x) == (y > 0)
}

func subInt(x, y int) (int, bool) {
	r := x - y
	return r, (r < x) == (y > 0)
}

func mulInt(x, y int) (int, bool) {
	if x == 0 || y == 0 {
		return 0, true
	}
	r := x * y
	if (x == -1 && y == math.MinInt) || (y == -1 && x == math.MinInt) || r/y != x {
		return r, false
	}
	return r, true
}

func (a *Arithmetic) check(text string) error {
	if strings.TrimSpace(text) == "" {
		return merr.WrapErrEvaluation(text, "empty expression")
	}
	if len(text) > a.maxLength {
		return merr.WrapErrEvaluation(text[:a.maxLength], "expression too long")
	}
	if i := strings.IndexFunc(text, func(r rune) bool { return !strings.ContainsRune(allowedChars, r) }); i >= 0 {
		r, _ := utf8.DecodeRuneInString(text[i:])
		return merr.WrapErrEvaluation(text, "unexpected character "+strconv.QuoteRune(r))
	}
	// ".." 在 expr 中是区间运算符。
	if strings.Contains(text, "..") {
		return merr.WrapErrEvaluation(text, "unexpected range operator")
	}
	return nil
}

// format 整数结果不带小数部分，浮点结果使用最短表示；非有限值视为求值失败。
func format(text string, out any) (string, error) {
	switch v := out.(type) {
	case int:
		return strconv.Itoa(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "", merr.WrapErrEvaluation(text, "result is not a finite number")
		}
		return strconv.FormatFloat(v, 'f', -1, 64), nil
	default:
		return "", merr.WrapErrEvaluation(text, "result is not a number")
	}
}
