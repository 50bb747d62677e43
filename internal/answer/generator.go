package answer

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"

	"github.com/dataplane-ai/dbrag-go/internal/intent"
	"github.com/dataplane-ai/dbrag-go/internal/logging"
)

// Status classifies how an intent's answer text was produced.
type Status string

const (
	// StatusOK means the model produced the answer from retrieved context.
	StatusOK Status = "ok"

	// StatusFallback means generation exhausted its attempts and the answer
	// is the truncated content of the best candidate document.
	StatusFallback Status = "fallback"

	// StatusEmpty means no candidates cleared the threshold (or the branch
	// was cut off before finishing); the answer is a canned notice.
	StatusEmpty Status = "empty"
)

const (
	// defaultAttemptTimeout bounds each individual model call.
	defaultAttemptTimeout = 60 * time.Second

	// defaultMaxRetries is the number of additional attempts after the first.
	defaultMaxRetries = 2

	// defaultRetryBackoff is the base of the linear backoff between attempts:
	// attempt n waits n * backoff.
	defaultRetryBackoff = time.Second

	// fallbackMaxChars caps the raw-document fallback answer length.
	fallbackMaxChars = 500
)

// IntentAnswer is the outcome of one intent's generation branch.
type IntentAnswer struct {
	// Intent is the branch this answer belongs to.
	Intent intent.Intent

	// Text is the answer body.
	Text string

	// Status records how Text was produced.
	Status Status

	// Candidates is the number of documents that cleared the threshold.
	Candidates int

	// Confidence is the mean similarity of the contributing candidates,
	// clamped to [0, 1]. Zero when no candidates contributed.
	Confidence float32
}

// GeneratorConfig tunes the per-intent generation loop.
// Zero values select the defaults above.
type GeneratorConfig struct {
	// AttemptTimeout bounds each model call; the retry loop re-arms it.
	AttemptTimeout time.Duration

	// MaxRetries is the number of additional attempts after the first.
	MaxRetries int

	// RetryBackoff is the base of the linear inter-attempt backoff.
	RetryBackoff time.Duration

	// MaxContextTokens bounds the prompt's document context.
	MaxContextTokens int
}

// Generator runs the bounded attempt loop for one intent at a time.
// It is stateless between calls and safe for concurrent use.
type Generator struct {
	// chatModel produces answer text. Any eino backend satisfies this.
	chatModel model.BaseChatModel

	// cfg holds the resolved loop configuration.
	cfg GeneratorConfig
}

// NewGenerator constructs a Generator over the given chat model.
func NewGenerator(chatModel model.BaseChatModel, cfg GeneratorConfig) *Generator {
	if cfg.AttemptTimeout <= 0 {
		cfg.AttemptTimeout = defaultAttemptTimeout
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaultMaxRetries
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaultRetryBackoff
	}
	return &Generator{chatModel: chatModel, cfg: cfg}
}

// Generate produces the answer for one intent. The loop is explicit:
// build prompt, call the model under a per-attempt timeout, retry on error
// or empty output with linear backoff, and fall back to raw document
// content when attempts are exhausted. A branch with no candidates returns
// its canned notice without calling the model at all.
//
// Generate never returns an error: every failure mode degrades to a
// well-formed IntentAnswer so sibling branches are unaffected.
func (g *Generator) Generate(ctx context.Context, question string, in intent.Intent, candidates []Candidate, maxTokens int, temperature float32) IntentAnswer {
	log := logging.FromContext(ctx)

	if len(candidates) == 0 {
		return IntentAnswer{
			Intent: in,
			Text:   EmptyAnswer(in),
			Status: StatusEmpty,
		}
	}

	msgs := BuildMessages(question, in, candidates, g.cfg.MaxContextTokens)
	opts := []model.Option{
		model.WithMaxTokens(maxTokens),
		model.WithTemperature(temperature),
	}

	for attempt := 0; attempt <= g.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			if !sleepCtx(ctx, time.Duration(attempt)*g.cfg.RetryBackoff) {
				break
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, g.cfg.AttemptTimeout)
		msg, err := g.chatModel.Generate(attemptCtx, msgs, opts...)
		cancel()

		if err != nil {
			log.Warn("answer: model attempt failed",
				slog.String("intent", in.Name),
				slog.Int("attempt", attempt),
				slog.String("error", err.Error()),
			)
			if ctx.Err() != nil {
				// The branch's own clock has run out; retrying cannot help.
				break
			}
			continue
		}

		text := strings.TrimSpace(msg.Content)
		if text == "" {
			log.Warn("answer: model returned empty output",
				slog.String("intent", in.Name),
				slog.Int("attempt", attempt),
			)
			continue
		}

		return IntentAnswer{
			Intent:     in,
			Text:       text,
			Status:     StatusOK,
			Candidates: len(candidates),
			Confidence: MeanSimilarity(candidates),
		}
	}

	log.Warn("answer: generation exhausted, falling back to document content",
		slog.String("intent", in.Name),
		slog.Int("candidates", len(candidates)),
	)
	return IntentAnswer{
		Intent:     in,
		Text:       fallbackText(candidates),
		Status:     StatusFallback,
		Candidates: len(candidates),
		Confidence: MeanSimilarity(candidates),
	}
}

// fallbackText returns the best candidate's raw content, truncated so a
// degraded answer stays readable.
func fallbackText(candidates []Candidate) string {
	content := strings.TrimSpace(candidates[0].Document.Content)
	if len(content) > fallbackMaxChars {
		content = content[:fallbackMaxChars] + "..."
	}
	return content
}

// sleepCtx waits for d or until ctx is done, reporting whether the full
// wait elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
