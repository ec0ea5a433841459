package provider

import (
	"context"
	"os"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/bedrock"
	"github.com/anthropics/anthropic-sdk-go/option"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/mwald/cadenza/pkg/models"
)

// defaultMaxTokens caps the response size per call.
const defaultMaxTokens = 8192

// AnthropicConfig configures the Anthropic invoker.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. If empty, ANTHROPIC_API_KEY is used.
	APIKey string
	// UseBedrock routes calls through AWS Bedrock instead of the direct API.
	UseBedrock bool
	// AWSRegion is the AWS region for Bedrock (e.g., "us-west-2").
	AWSRegion string
	// AWSProfile is the optional AWS shared-config profile name.
	AWSProfile string
}

// Anthropic calls Claude models through the Anthropic SDK.
type Anthropic struct {
	client     anthropic.Client
	useBedrock bool
	hasAuth    bool
}

// NewAnthropic creates an Anthropic invoker. Construction never fails;
// a missing credential surfaces through Available and as a ProviderError
// on the first call.
func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	var opts []option.RequestOption
	hasAuth := false

	if cfg.UseBedrock {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if cfg.AWSRegion != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(cfg.AWSRegion))
		}
		if cfg.AWSProfile != "" {
			loadOpts = append(loadOpts, awsconfig.WithSharedConfigProfile(cfg.AWSProfile))
		}
		opts = append(opts, bedrock.WithLoadDefaultConfig(context.Background(), loadOpts...))
		hasAuth = true
	} else {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("ANTHROPIC_API_KEY")
		}
		if apiKey != "" {
			opts = append(opts, option.WithAPIKey(apiKey))
			hasAuth = true
		}
	}

	return &Anthropic{
		client:     anthropic.NewClient(opts...),
		useBedrock: cfg.UseBedrock,
		hasAuth:    hasAuth,
	}
}

// Name returns the provider key.
func (a *Anthropic) Name() string { return "anthropic" }

// Available reports whether credentials were configured.
func (a *Anthropic) Available() bool { return a.hasAuth }

// Invoke sends one message to the given Claude model.
func (a *Anthropic) Invoke(ctx context.Context, model, system, prompt string) (*Invocation, error) {
	if !a.hasAuth {
		return nil, &models.ProviderError{
			Provider: a.Name(),
			Err:      errNoCredentials,
		}
	}

	modelID := anthropic.Model(model)
	if a.useBedrock {
		modelID = bedrockModel(modelID)
	}

	params := anthropic.MessageNewParams{
		Model:     modelID,
		MaxTokens: defaultMaxTokens,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}

	start := time.Now()
	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &models.ProviderError{Provider: a.Name(), Err: err}
	}

	var text string
	for _, block := range resp.Content {
		if variant, ok := block.AsAny().(anthropic.TextBlock); ok {
			text += variant.Text
		}
	}

	return &Invocation{
		Text:      text,
		TokensIn:  resp.Usage.InputTokens,
		TokensOut: resp.Usage.OutputTokens,
		Latency:   time.Since(start),
	}, nil
}

// bedrockModel converts standard Anthropic model names to Bedrock
// cross-region inference profile format: us.anthropic.{model}-v1:0.
func bedrockModel(model anthropic.Model) anthropic.Model {
	bedrockModels := map[anthropic.Model]string{
		"claude-3-5-haiku-20241022": "us.anthropic.claude-3-5-haiku-20241022-v1:0",
		"claude-sonnet-4-20250514":  "us.anthropic.claude-sonnet-4-20250514-v1:0",
		"claude-opus-4-5-20251101":  "us.anthropic.claude-opus-4-5-20251101-v1:0",
	}
	if mapped, ok := bedrockModels[model]; ok {
		return anthropic.Model(mapped)
	}
	return model
}
