package anthropic

import (
	"testing"
	"time"

	"github.com/hupe1980/agentplan/model"
	"github.com/stretchr/testify/assert"
)

var _ model.Model = (*Model)(nil)

func TestBuildMessages_SplitsSystem(t *testing.T) {
	msgs := []model.Message{
		{Role: "system", Content: "be terse"},
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
		{Role: "user", Content: ""},
	}

	assert.Len(t, buildMessages(msgs), 2)
	system := extractSystem(msgs)
	assert.Len(t, system, 1)
	assert.Equal(t, "be terse", system[0].Text)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 3*time.Second, parseRetryAfter("3"))
	assert.Equal(t, time.Duration(0), parseRetryAfter("soon"))
}

func TestInfo(t *testing.T) {
	m := NewModel(func(o *Options) { o.Model = "claude-test"; o.APIKey = "k" })
	assert.Equal(t, model.Info{Name: "claude-test", Provider: "anthropic"}, m.Info())
}
