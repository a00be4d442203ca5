package tool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/model"
)

func echoTool(name string) *FunctionTool {
	return NewFunctionTool(name, "echo", map[string]any{
		"type":       "object",
		"properties": map[string]any{"msg": map[string]any{"type": "string"}},
		"required":   []string{"msg"},
	}, func(_ context.Context, args map[string]any) (any, error) {
		return args["msg"], nil
	})
}

func TestRegistry_InvokeAndLookup(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(echoTool("echo")))
	assert.ErrorIs(t, r.Register(echoTool("echo")), ErrDuplicateTool)

	out, err := r.Invoke(context.Background(), "echo", map[string]any{"msg": "hi"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "hi", out)
	assert.Equal(t, []string{"echo"}, r.Names())
}

func TestRegistry_ErrorCodes(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(
		echoTool("echo"),
		NewFunctionTool("slow", "", nil, func(ctx context.Context, _ map[string]any) (any, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		}),
		NewFunctionTool("boom", "", nil, func(context.Context, map[string]any) (any, error) {
			panic("kaboom")
		}),
		NewFunctionTool("limited", "", nil, func(context.Context, map[string]any) (any, error) {
			return nil, &model.RateLimitError{Provider: "mock", RetryAfter: time.Second}
		}),
		NewFunctionTool("flaky", "", nil, func(context.Context, map[string]any) (any, error) {
			return nil, errors.New("connection reset")
		}),
	)

	tests := []struct {
		name      string
		tool      string
		args      map[string]any
		code      string
		kind      core.ErrorKind
		retryable bool
	}{
		{"not found", "missing", nil, CodeNotFound, core.ToolExecutionError, false},
		{"validation", "echo", map[string]any{}, CodeValidation, core.ValidationFailure, false},
		{"timeout", "slow", nil, CodeTimeout, core.Timeout, true},
		{"panic", "boom", nil, CodeExecution, core.ToolExecutionError, true},
		{"rate limited", "limited", nil, CodeRateLimited, core.ToolRateLimited, true},
		{"execution", "flaky", nil, CodeExecution, core.ToolExecutionError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Invoke(context.Background(), tt.tool, tt.args, 20*time.Millisecond)
			require.Error(t, err)

			var te *ToolError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, tt.code, te.Code)

			kind, retryable := core.KindOf(err)
			assert.Equal(t, tt.kind, kind)
			assert.Equal(t, tt.retryable, retryable)
		})
	}
}

func TestRegistry_ConcurrencyHint(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, DefaultConcurrency, r.ConcurrencyHint())

	r.MustRegister(echoTool("a").WithMaxConcurrency(8), echoTool("b").WithMaxConcurrency(2), echoTool("c"))
	assert.Equal(t, 2, r.ConcurrencyHint())
}

func f(v float64) *float64 { return &v }

func TestCalculate(t *testing.T) {
	tests := []struct {
		op     string
		values []*float64
		want   float64
	}{
		{OpRatio, []*float64{f(10), f(4)}, 2.5},
		{OpSum, []*float64{f(1), f(2), f(3)}, 6},
		{OpDifference, []*float64{f(10), f(4)}, 6},
		{OpProduct, []*float64{f(2), f(3), f(4)}, 24},
		{OpPercentChange, []*float64{f(200), f(250)}, 25},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			res, err := Calculate(tt.op, []string{"a", "b", "c"}, tt.values)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, res.Value, 1e-9)
			assert.NotEmpty(t, res.Formula)
			assert.Contains(t, res.Operands, "a")
		})
	}
}

func TestCalculate_PermanentFailures(t *testing.T) {
	_, err := Calculate(OpRatio, []string{"revenue", "costs"}, []*float64{f(1), f(0)})
	require.ErrorIs(t, err, core.ErrDivisionByZero)
	_, retryable := core.KindOf(err)
	assert.False(t, retryable)

	_, err = Calculate(OpSum, []string{"a", "b"}, []*float64{f(1), nil})
	require.ErrorIs(t, err, core.ErrMissingOperand)
	_, retryable = core.KindOf(err)
	assert.False(t, retryable)
}

func TestCalculatorTool_ThroughRegistry(t *testing.T) {
	r := NewRegistry()
	r.MustRegister(NewCalculatorTool())

	out, err := r.Invoke(context.Background(), CalculatorToolName, map[string]any{
		"op":       OpRatio,
		"operands": []any{"$1,000", 250.0},
		"names":    []any{"revenue", "costs"},
	}, time.Second)
	require.NoError(t, err)
	res := out.(core.CalcResult)
	assert.InDelta(t, 4.0, res.Value, 1e-9)
	assert.Contains(t, res.Formula, "revenue / costs")

	_, err = r.Invoke(context.Background(), CalculatorToolName, map[string]any{
		"op":       OpRatio,
		"operands": []any{1.0, 0.0},
	}, time.Second)
	require.Error(t, err)
	kind, retryable := core.KindOf(err)
	assert.Equal(t, core.DivisionByZero, kind)
	assert.False(t, retryable)
}

func TestParseNumber(t *testing.T) {
	for in, want := range map[string]float64{"1,250.5": 1250.5, "$3": 3, "12%": 12, "(4)": -4} {
		got, err := ParseNumber(in)
		require.NoError(t, err, in)
		assert.InDelta(t, want, got, 1e-9, in)
	}
	_, err := ParseNumber("n/a")
	assert.Error(t, err)
}

func TestCompletionTool(t *testing.T) {
	m := model.NewMockModel("mock", "mock")
	m.AddResponse("hello", "world")

	ct := NewCompletionTool(m, func(o *CompletionOptions) { o.MaxConcurrency = 3 })
	r := NewRegistry()
	r.MustRegister(ct)
	assert.Equal(t, 3, r.ConcurrencyHint())

	out, err := r.Invoke(context.Background(), CompletionToolName, map[string]any{"system": "be brief", "prompt": "hello"}, time.Second)
	require.NoError(t, err)
	text, err := CompletionText(out)
	require.NoError(t, err)
	assert.Equal(t, "world", text)

	calls := m.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "system", calls[0].Messages[0].Role)

	_, err = r.Invoke(context.Background(), CompletionToolName, map[string]any{}, time.Second)
	var te *ToolError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, CodeValidation, te.Code)
}
