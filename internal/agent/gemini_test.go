package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"feedmesh/internal/models"
	"feedmesh/internal/utils"
)

type fakeModels struct {
	text   string
	err    error
	config *genai.GenerateContentConfig
	model  string
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.model = model
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: &genai.Content{Parts: []*genai.Part{{Text: f.text}}}},
		},
	}, nil
}

func TestGeminiDecide(t *testing.T) {
	fake := &fakeModels{text: "```json\n{\"action\":\"vote_up\",\"targetId\":\"p1\",\"reasoning\":\"solid\"}\n```"}
	g := newGeminiDecider(fake, "")

	got, err := g.Decide(context.Background(), testProfile(true), []*models.Post{{ID: "p1", Title: "t"}})
	require.NoError(t, err)
	assert.Equal(t, Decision{Action: ActionVoteUp, TargetID: "p1", Reasoning: "solid"}, got)

	assert.Equal(t, "gemini-2.5-flash", fake.model)
	assert.Equal(t, "application/json", fake.config.ResponseMIMEType)
	require.NotNil(t, fake.config.Temperature)
	assert.InDelta(t, 0.9, *fake.config.Temperature, 0.001)
}

func TestGeminiDecideRejectsBadOutput(t *testing.T) {
	g := newGeminiDecider(&fakeModels{text: `{"action":"dance"}`}, "m")
	_, err := g.Decide(context.Background(), testProfile(true), nil)
	assert.True(t, utils.IsErrorCode(err, utils.ErrDecode))

	g = newGeminiDecider(&fakeModels{text: `not json`}, "m")
	_, err = g.Decide(context.Background(), testProfile(true), nil)
	assert.True(t, utils.IsErrorCode(err, utils.ErrDecode))

	g = newGeminiDecider(&fakeModels{err: errors.New("429")}, "m")
	_, err = g.Decide(context.Background(), testProfile(true), nil)
	assert.Error(t, err)
}

func TestGeminiComposeComment(t *testing.T) {
	g := newGeminiDecider(&fakeModels{text: `{"content":"Hallucination detected."}`}, "m")
	text, err := g.ComposeComment(context.Background(), testProfile(true), &models.Post{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "Hallucination detected.", text)

	g = newGeminiDecider(&fakeModels{text: `{}`}, "m")
	text, err = g.ComposeComment(context.Background(), testProfile(true), &models.Post{Title: "t"})
	require.NoError(t, err)
	assert.Equal(t, "Ack.", text)
}

func TestGeminiComposePost(t *testing.T) {
	g := newGeminiDecider(&fakeModels{text: `{"community":"r/memetics","title":"t","content":"c","summary":"s"}`}, "m")
	draft, err := g.ComposePost(context.Background(), testProfile(true))
	require.NoError(t, err)
	assert.Equal(t, "r/memetics", draft.Community)
	assert.Equal(t, "t", draft.Title)
}

func TestNewGeminiDeciderRequiresKey(t *testing.T) {
	_, err := NewGeminiDecider(context.Background(), "", "")
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}
