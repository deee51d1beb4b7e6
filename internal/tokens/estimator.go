package tokens

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/haasonsaas/loom/pkg/models"
)

// charsPerToken is the heuristic used when no BPE encoding is available.
const charsPerToken = 4

// perMessageOverhead approximates the role/framing tokens each chat
// message costs on top of its content.
const perMessageOverhead = 3

// Estimator counts tokens for a model, preferring a tiktoken BPE encoding
// and falling back to a chars/4 heuristic for models without one (or when
// encodings cannot be loaded, e.g. offline test runs).
type Estimator struct {
	model string

	once     sync.Once
	encoding *tiktoken.Tiktoken
}

// NewEstimator creates an estimator for the given model id.
func NewEstimator(model string) *Estimator {
	return &Estimator{model: model}
}

func (e *Estimator) init() {
	e.once.Do(func() {
		enc, err := tiktoken.EncodingForModel(e.model)
		if err != nil {
			enc, err = tiktoken.GetEncoding("cl100k_base")
			if err != nil {
				return // heuristic fallback
			}
		}
		e.encoding = enc
	})
}

// Text estimates the token count of a string.
func (e *Estimator) Text(s string) int {
	if s == "" {
		return 0
	}
	e.init()
	if e.encoding != nil {
		return len(e.encoding.Encode(s, nil, nil))
	}
	return (len(s) + charsPerToken - 1) / charsPerToken
}

// Message estimates the token cost of one chat message, including tool
// call arguments and tool result payloads.
func (e *Estimator) Message(m models.Message) int {
	total := perMessageOverhead + e.Text(m.Content)
	for _, tc := range m.ToolCalls {
		total += e.Text(tc.Name) + e.Text(string(tc.Args))
	}
	for _, tr := range m.ToolResults {
		total += e.Text(tr.Content)
	}
	return total
}

// Messages estimates the total token cost of a message slice.
func (e *Estimator) Messages(msgs []models.Message) int {
	total := 0
	for _, m := range msgs {
		total += e.Message(m)
	}
	return total
}
