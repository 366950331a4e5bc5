package explain

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

// OpenAI explains verdicts with an OpenAI-compatible chat completion API.
type OpenAI struct {
	client *openai.Client
	config Config
}

// NewOpenAI creates an OpenAI explainer.
func NewOpenAI(config Config) (*OpenAI, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &OpenAI{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

// Explain implements Explainer.
func (p *OpenAI) Explain(ctx context.Context, req Request) (*Explanation, error) {
	model := p.config.Model
	if model == "" {
		model = openai.GPT4oMini
	}
	maxTokens := p.config.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	timeout := p.config.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: "You are a clinical pharmacogenomics specialist writing explanations for a clinical decision support system. Only use the facts provided.",
			},
			{
				Role:    openai.ChatMessageRoleUser,
				Content: BuildPrompt(req),
			},
		},
		MaxTokens:   maxTokens,
		Temperature: 0.3,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from OpenAI")
	}

	exp, err := parseExplanation(resp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	exp.Model = model
	return exp, nil
}

// BuildPrompt renders the verdict as a prompt requesting a JSON object with
// the Explanation fields.
func BuildPrompt(req Request) string {
	v := req.Verdict

	var variants strings.Builder
	for _, e := range req.Variants {
		fmt.Fprintf(&variants, "  - %s (%s:%d %s>%s): %s, defines %s\n",
			e.RsID, e.Chrom, e.Pos, e.Ref, e.Alt, e.Zygosity, strings.Join(e.Alleles, ", "))
	}
	if variants.Len() == 0 {
		for _, id := range req.RsIDs {
			fmt.Fprintf(&variants, "  - %s\n", id)
		}
	}
	if variants.Len() == 0 {
		variants.WriteString("  - No defining variants detected (wild-type assumed)\n")
	}

	return fmt.Sprintf(`PATIENT PHARMACOGENOMIC PROFILE:
- Drug: %s
- Gene: %s
- Diplotype: %s (%s call, confidence %.2f)
- Phenotype: %s
- Risk: %s (severity: %s)
- Guideline action: %s
- Detected variants:
%s
Cite only the rsIDs listed above. Return ONLY a JSON object with exactly these keys:
{
  "summary": "2-3 sentence clinical summary mentioning the rsIDs and the phenotype impact on %s",
  "mechanism": "how %s metabolizes or transports %s and how the variants alter this",
  "variant_impact": "impact of each detected variant on protein function and drug exposure",
  "clinical_context": "clinical risks if standard %s dosing is used with this genotype",
  "monitoring_parameters": "lab values and clinical signs to monitor if %s is prescribed"
}`,
		v.Drug, v.Gene, v.Diplotype, strings.ToLower(v.Completeness.String()), v.Confidence,
		v.Phenotype, v.Label, v.Severity, v.Action, variants.String(),
		v.Drug, v.Gene, v.Drug, v.Drug, v.Drug)
}

func parseExplanation(content string) (*Explanation, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var exp Explanation
	if err := json.Unmarshal([]byte(strings.TrimSpace(content)), &exp); err != nil {
		return nil, fmt.Errorf("decode explanation: %w", err)
	}
	if exp.Summary == "" {
		return nil, fmt.Errorf("decode explanation: empty summary")
	}
	return &exp, nil
}
