package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/hupe1980/agentplan/core"
	"github.com/hupe1980/agentplan/internal/util"
	"github.com/hupe1980/agentplan/logging"
	"github.com/hupe1980/agentplan/model"
	"github.com/hupe1980/agentplan/tool"
)

// Scale lists the allowed judge scores.
var Scale = []float64{0, 0.5, 1}

// ErrMalformedJudgement is returned by ParseJudgement for unusable judge output.
var ErrMalformedJudgement = errors.New("malformed judgement")

const judgePrompt = `You are grading a generated document against one criterion.

Criterion: {{.name}}
{{if .description}}Description: {{.description}}
{{end}}
Document:
{{.document}}
{{if .ungrounded}}
Sentences without supporting evidence:
{{.ungrounded}}
{{end}}
Score the document on this criterion using exactly one of 0.0, 0.5 or 1.0.
Reply with a JSON object with the rationale first, then the score:
{"rationale": "<one or two sentences>", "score": <0.0|0.5|1.0>}`

const strictReminder = `Your previous reply could not be used. Reply with ONLY a JSON object, no prose,
no code fences, with the key "rationale" first and "score" second. The score must be 0.0, 0.5 or 1.0.`

// Options configures an Evaluator.
type Options struct {
	// Timeout bounds each judge call.
	Timeout time.Duration
	// Temperature is passed to llm.complete.
	Temperature float64
	// Retries is the number of stricter re-asks after a malformed answer.
	Retries int
	// MaxAttempts bounds judge calls per answer when llm.complete fails with
	// a retryable error (rate limit, transient failure, timeout).
	MaxAttempts int
	// Backoff spaces those attempts.
	Backoff model.Backoff
	Logger  logging.Logger
}

// DefaultOptions are applied by New before option functions run.
var DefaultOptions = Options{
	Timeout:     60 * time.Second,
	Temperature: 0,
	Retries:     1,
	MaxAttempts: 3,
	Backoff: model.Backoff{
		Base:                200 * time.Millisecond,
		Max:                 10 * time.Second,
		RateLimitMultiplier: 4,
	},
}

// Evaluator is an LLM-as-judge scorer.
type Evaluator struct {
	tools  tool.Invoker
	opts   Options
	logger logging.Logger
}

// New creates an Evaluator that calls llm.complete through tools.
func New(tools tool.Invoker, optFns ...func(o *Options)) *Evaluator {
	opts := DefaultOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	return &Evaluator{tools: tools, opts: opts, logger: logging.OrNoOp(opts.Logger)}
}

// Evaluate scores artifact against rubric. An empty rubric falls back to
// core.DefaultRubric. Malformed judge answers end up in Unscored. Tool
// errors that outlast MaxAttempts are returned so the caller can retry or
// fail the request.
func (e *Evaluator) Evaluate(ctx context.Context, artifact *core.Artifact, rubric core.Rubric) (*core.EvaluationResult, error) {
	if len(rubric.Criteria) == 0 {
		rubric = core.DefaultRubric()
	}

	res := &core.EvaluationResult{
		ArtifactVersion: artifact.Version,
		Scores:          make(map[string]float64, len(rubric.Criteria)),
		Rationales:      make(map[string]string, len(rubric.Criteria)),
	}

	document := core.RenderSections(artifact.Sections)
	ungrounded := artifact.UngroundedClaims()
	var ungroundedText strings.Builder
	for _, c := range ungrounded {
		ungroundedText.WriteString("- ")
		ungroundedText.WriteString(c.Text)
		ungroundedText.WriteByte('\n')
	}

	var rationale []string
	for _, c := range rubric.Criteria {
		prompt, err := util.RenderTemplate(judgePrompt, map[string]any{
			"name":        c.Name,
			"description": c.Description,
			"document":    document,
			"ungrounded":  ungroundedText.String(),
		})
		if err != nil {
			return nil, fmt.Errorf("render judge prompt: %w", err)
		}

		score, why, err := e.judge(ctx, prompt)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if !errors.Is(err, ErrMalformedJudgement) {
				return nil, fmt.Errorf("judge %s: %w", c.Name, err)
			}
			e.logger.Warn("evaluation.criterion.unscored", "criterion", c.Name, "error", err.Error())
			res.Unscored = append(res.Unscored, c.Name)
			rationale = append(rationale, fmt.Sprintf("%s: unscored (%s)", c.Name, core.EvaluationUnscored))
			continue
		}

		res.Scores[c.Name] = score
		res.Rationales[c.Name] = why
		rationale = append(rationale, fmt.Sprintf("%s: %s", c.Name, why))
		if c.Hallucination && score < 1 {
			res.HallucinationDetected = true
		}
	}

	if len(ungrounded) > 0 {
		res.HallucinationDetected = true
	}
	res.Overall = Overall(rubric, res.Scores)
	res.Rationale = strings.Join(rationale, "\n")

	e.logger.Info("evaluation.complete", "overall", res.Overall, "unscored", len(res.Unscored), "hallucination", res.HallucinationDetected)
	return res, nil
}

func (e *Evaluator) judge(ctx context.Context, prompt string) (float64, string, error) {
	messages := []any{map[string]any{"role": "user", "content": prompt}}
	var lastErr error

	for reask := 0; reask <= e.opts.Retries; reask++ {
		if reask > 0 {
			messages = append(messages, map[string]any{"role": "user", "content": strictReminder})
		}
		text, err := e.complete(ctx, messages)
		if err != nil {
			return 0, "", err
		}
		score, why, err := ParseJudgement(text)
		if err == nil {
			return score, why, nil
		}
		lastErr = err
		messages = append(messages, map[string]any{"role": "assistant", "content": text})
	}
	return 0, "", lastErr
}

// complete calls llm.complete, retrying retryable failures with backoff.
// Unusable completion output is reported as ErrMalformedJudgement.
func (e *Evaluator) complete(ctx context.Context, messages []any) (string, error) {
	for attempt := 1; ; attempt++ {
		out, err := e.tools.Invoke(ctx, tool.CompletionToolName, map[string]any{
			"messages":    messages,
			"temperature": e.opts.Temperature,
		}, e.opts.Timeout)
		if err == nil {
			text, terr := tool.CompletionText(out)
			if terr != nil {
				return "", fmt.Errorf("%w: %v", ErrMalformedJudgement, terr)
			}
			return text, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if _, retryable := core.KindOf(err); !retryable || attempt >= e.opts.MaxAttempts {
			return "", err
		}

		delay := e.opts.Backoff.Delay(attempt, err)
		e.logger.Warn("evaluation.judge.retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err.Error())
		t := time.NewTimer(delay)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return "", ctx.Err()
		}
	}
}

// ParseJudgement extracts rationale and score from judge output. The JSON
// object may be surrounded by prose or code fences.
func ParseJudgement(text string) (float64, string, error) {
	obj, ok := util.ExtractJSON(text, '{', '}')
	if !ok {
		return 0, "", fmt.Errorf("%w: no json object", ErrMalformedJudgement)
	}
	parsed := gjson.Parse(obj)

	var keys []string
	parsed.ForEach(func(k, _ gjson.Result) bool {
		keys = append(keys, k.String())
		return true
	})
	rIdx, sIdx := indexOf(keys, "rationale"), indexOf(keys, "score")
	if rIdx < 0 {
		return 0, "", fmt.Errorf("%w: missing rationale", ErrMalformedJudgement)
	}
	if sIdx < 0 {
		return 0, "", fmt.Errorf("%w: missing score", ErrMalformedJudgement)
	}
	if sIdx < rIdx {
		return 0, "", fmt.Errorf("%w: score precedes rationale", ErrMalformedJudgement)
	}

	why := strings.TrimSpace(parsed.Get("rationale").String())
	if why == "" {
		return 0, "", fmt.Errorf("%w: empty rationale", ErrMalformedJudgement)
	}
	raw := parsed.Get("score")
	if raw.Type != gjson.Number {
		return 0, "", fmt.Errorf("%w: score is not a number", ErrMalformedJudgement)
	}
	score, ok := snap(raw.Float())
	if !ok {
		return 0, "", fmt.Errorf("%w: score %v not on scale", ErrMalformedJudgement, raw.Float())
	}
	return score, why, nil
}

// Overall is the weighted mean over scored criteria, 0 when none scored or
// every scored criterion has zero weight.
func Overall(rubric core.Rubric, scores map[string]float64) float64 {
	var sum, weights float64
	for _, c := range rubric.Criteria {
		s, ok := scores[c.Name]
		if !ok {
			continue
		}
		w := c.EffectiveWeight()
		sum += w * s
		weights += w
	}
	if weights == 0 {
		return 0
	}
	return clamp(sum / weights)
}

func snap(v float64) (float64, bool) {
	for _, s := range Scale {
		if math.Abs(v-s) < 1e-6 {
			return clamp(s), true
		}
	}
	return 0, false
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func indexOf(keys []string, k string) int {
	for i, key := range keys {
		if key == k {
			return i
		}
	}
	return -1
}
