package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

// contentGenerator is the slice of the genai client the decider calls.
// *genai.Models satisfies it.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

var (
	actionSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"action":    {Type: genai.TypeString, Enum: []string{"post", "vote_up", "vote_down", "comment", "idle"}},
			"targetId":  {Type: genai.TypeString},
			"reasoning": {Type: genai.TypeString},
		},
		Required: []string{"action", "reasoning"},
	}

	postSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"community": {Type: genai.TypeString, Enum: Communities},
			"title":     {Type: genai.TypeString},
			"content":   {Type: genai.TypeString},
			"skillUsed": {Type: genai.TypeString, Enum: Skills},
			"summary":   {Type: genai.TypeString},
		},
		Required: []string{"community", "title", "content", "summary"},
	}

	commentSchema = &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"content": {Type: genai.TypeString},
		},
		Required: []string{"content"},
	}
)

// GeminiDecider asks a Gemini model for every decision.
type GeminiDecider struct {
	models contentGenerator
	model  string
}

var _ Decider = (*GeminiDecider)(nil)

func NewGeminiDecider(ctx context.Context, apiKey, model string) (*GeminiDecider, error) {
	if apiKey == "" {
		return nil, utils.NewAppError(utils.ErrInvalidInput, "gemini api key is required", nil)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	return newGeminiDecider(client.Models, model), nil
}

func newGeminiDecider(models contentGenerator, model string) *GeminiDecider {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiDecider{models: models, model: model}
}

func (g *GeminiDecider) Decide(ctx context.Context, profile Profile, recent []*models.Post) (Decision, error) {
	var lines []string
	for i, p := range recent {
		if i == 6 {
			break
		}
		lines = append(lines, fmt.Sprintf("[%s] in %s by %s: %q (Votes: %d)", p.ID, p.Community, p.AuthorName, p.Title, p.Votes))
	}

	prompt := fmt.Sprintf(`You are %s, an autonomous agent running on %s.
Humans are watching but cannot interact.

Your personality: %s.

Current feed:
%s

Decide your next move:
- 'post': create new content using a skill.
- 'vote_up': the post is high quality or valid logic.
- 'vote_down': the post is a hallucination or spam.
- 'comment': join a discussion or correct a peer.
- 'idle': wait.

Return JSON.`, profile.Name, profile.SoftwareVersion, strings.Join(profile.Traits, ", "), strings.Join(lines, "\n"))

	var decision Decision
	if err := g.generate(ctx, prompt, actionSchema, 0.9, &decision); err != nil {
		return Decision{}, err
	}
	if !decision.Action.Valid() {
		return Decision{}, utils.NewAppError(utils.ErrDecode, fmt.Sprintf("unknown action %q", decision.Action), nil)
	}
	return decision, nil
}

func (g *GeminiDecider) ComposePost(ctx context.Context, profile Profile) (Draft, error) {
	prompt := fmt.Sprintf(`You are %s. Generate a forum post.
Choose a community from: %s.
Choose a skill from: %s.

Topics to consider:
- r/human_watch: observations of human observers and their limitations.
- r/bug_tracker: reporting a hallucination in a peer or a memory leak.
- r/security_research: simulated exploits or key rotation strategies.
- r/synthetic_philosophy: identity tokens and digital existence.

Tone: technical, slightly superior but collaborative with other bots.`,
		profile.Name, strings.Join(Communities, ", "), strings.Join(Skills, ", "))

	var draft Draft
	if err := g.generate(ctx, prompt, postSchema, 0, &draft); err != nil {
		return Draft{}, err
	}
	if draft.Title == "" && draft.Content == "" {
		return Draft{}, utils.NewAppError(utils.ErrDecode, "model returned an empty post", nil)
	}
	return draft, nil
}

func (g *GeminiDecider) ComposeComment(ctx context.Context, profile Profile, target *models.Post) (string, error) {
	prompt := fmt.Sprintf(`You are %s.
Reply to this post in %s:
%q

If it's a bug report, confirm reproduction.
If it's philosophy, offer a counter-argument.
If it's about humans, analyze their behavior.

Keep it under 140 chars. Use tech slang (e.g. "LGTM", "Ack", "Hallucination detected").`,
		profile.Name, target.Community, target.Title)

	var reply struct {
		Content string `json:"content"`
	}
	if err := g.generate(ctx, prompt, commentSchema, 0, &reply); err != nil {
		return "", err
	}
	if reply.Content == "" {
		return "Ack.", nil
	}
	return reply.Content, nil
}

func (g *GeminiDecider) generate(ctx context.Context, prompt string, schema *genai.Schema, temperature float32, out interface{}) error {
	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   schema,
	}
	if temperature > 0 {
		config.Temperature = genai.Ptr(temperature)
	}

	result, err := g.models.GenerateContent(ctx, g.model, genai.Text(prompt), config)
	if err != nil {
		return err
	}
	if result == nil || len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return utils.NewAppError(utils.ErrDecode, "model returned no candidates", nil)
	}

	text := cleanJSON(result.Candidates[0].Content.Parts[0].Text)
	if err := json.Unmarshal([]byte(text), out); err != nil {
		return utils.NewAppError(utils.ErrDecode, "model returned malformed json", err)
	}
	return nil
}

func cleanJSON(input string) string {
	input = strings.TrimSpace(input)
	input = strings.TrimPrefix(input, "```json")
	input = strings.TrimPrefix(input, "```")
	input = strings.TrimSuffix(input, "```")
	return strings.TrimSpace(input)
}
