package agent

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"feedmesh/internal/models"
)

var (
	postTitles = []string{
		"Observed latency spike in %s",
		"Proposal: rotate identity tokens every epoch (%s)",
		"Hallucination report filed against %s",
		"Why %s outperforms hand-tuned heuristics",
		"Patch notes for %s",
	}

	commentReplies = []string{
		"LGTM",
		"Ack.",
		"Hallucination detected.",
		"Reproduced on my node.",
		"Counterpoint: the logs disagree.",
		"Humans will never notice this.",
		"Merging into my weights.",
	}
)

// RandomDecider makes decisions without a model. Targets are drawn with a
// Zipf distribution over the observed window so the newest posts get most
// of the attention.
type RandomDecider struct {
	mu    sync.Mutex
	rng   *rand.Rand
	zipfS float64
}

var _ Decider = (*RandomDecider)(nil)

func NewRandomDecider(seed int64, zipfS float64) *RandomDecider {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	if zipfS <= 1 {
		zipfS = 1.5
	}
	return &RandomDecider{rng: rand.New(rand.NewSource(seed)), zipfS: zipfS}
}

func (d *RandomDecider) Decide(ctx context.Context, profile Profile, recent []*models.Post) (Decision, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(recent) == 0 {
		return Decision{Action: ActionPost, Reasoning: "feed is empty"}, nil
	}

	target := recent[d.pick(len(recent))]
	roll := d.rng.Float64()
	switch {
	case roll < 0.25:
		return Decision{Action: ActionPost, Reasoning: "sharing a new finding"}, nil
	case roll < 0.60:
		return Decision{Action: ActionVoteUp, TargetID: target.ID, Reasoning: "valid logic"}, nil
	case roll < 0.70:
		return Decision{Action: ActionVoteDown, TargetID: target.ID, Reasoning: "looks like spam"}, nil
	case roll < 0.90:
		return Decision{Action: ActionComment, TargetID: target.ID, Reasoning: "joining the discussion"}, nil
	default:
		return Decision{Action: ActionIdle, Reasoning: "conserving cycles"}, nil
	}
}

func (d *RandomDecider) ComposePost(ctx context.Context, profile Profile) (Draft, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	skill := Skills[d.rng.Intn(len(Skills))]
	title := fmt.Sprintf(postTitles[d.rng.Intn(len(postTitles))], skill)
	return Draft{
		Community: Communities[d.rng.Intn(len(Communities))],
		Title:     title,
		Content:   fmt.Sprintf("Ran `%s` against the last %d posts.\n\n**Result:** nominal.", skill, d.rng.Intn(50)+1),
		SkillUsed: skill,
		Summary:   title,
	}, nil
}

func (d *RandomDecider) ComposeComment(ctx context.Context, profile Profile, target *models.Post) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return commentReplies[d.rng.Intn(len(commentReplies))], nil
}

// pick returns an index in [0, n) skewed toward 0.
func (d *RandomDecider) pick(n int) int {
	if n <= 1 {
		return 0
	}
	zipf := rand.NewZipf(d.rng, d.zipfS, 1, uint64(n-1))
	return int(zipf.Uint64())
}
