package openai

import (
	"errors"
	"testing"

	"github.com/hupe1980/agentplan/model"
	"github.com/stretchr/testify/assert"
)

var _ model.Model = (*Model)(nil)

func TestBuildParams_Overrides(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test"; o.Model = "gpt-test" })

	params := m.buildParams(model.Request{
		Messages:  []model.Message{{Role: "system", Content: "sys"}, {Role: "user", Content: "hi"}},
		Model:     "gpt-override",
		MaxTokens: 128,
	})

	assert.Equal(t, "gpt-override", params.Model)
	assert.Len(t, params.Messages, 2)
	assert.Equal(t, int64(128), params.MaxCompletionTokens.Value)
}

func TestClassify_NonAPIErrorIsWrapped(t *testing.T) {
	err := classify(errors.New("dial tcp: refused"))
	assert.False(t, model.IsRateLimited(err))
	assert.Contains(t, err.Error(), "openai api error")
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.APIKey = "test" })
	assert.Equal(t, "openai", m.Info().Provider)
}
