package supervisor

// #region imports
import (
	"context"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// #endregion

// #region anthropic-client

// maxAdvisoryTokens caps the reply length. The budget gate reserves
// against this cap before a call is admitted.
const maxAdvisoryTokens = 1024

// anthropicClient adapts the Anthropic Messages API to AdvisoryClient.
type anthropicClient struct {
	client    anthropic.Client
	model     anthropic.Model
	maxTokens int64
}

// NewAnthropicClient builds an AdvisoryClient over the Anthropic SDK.
func NewAnthropicClient(apiKey, model string) AdvisoryClient {
	return &anthropicClient{
		client:    anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:     anthropic.Model(model),
		maxTokens: maxAdvisoryTokens,
	}
}

// #endregion

// #region complete

// Complete sends one prompt and returns the concatenated text blocks plus
// token usage for the budget ledger.
func (c *anthropicClient) Complete(ctx context.Context, prompt string) (AdvisoryReply, error) {
	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return AdvisoryReply{}, fmt.Errorf("advisory request: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return AdvisoryReply{
		Text:         sb.String(),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// #endregion
