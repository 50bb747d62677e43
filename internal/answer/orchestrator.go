package answer

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/dataplane-ai/dbrag-go/internal/budget"
	"github.com/dataplane-ai/dbrag-go/internal/intent"
	"github.com/dataplane-ai/dbrag-go/internal/logging"
	"github.com/dataplane-ai/dbrag-go/internal/rag"
	"github.com/dataplane-ai/dbrag-go/internal/rewrite"
)

// Config tunes the orchestrator's fan-out.
type Config struct {
	// TopK is the number of results requested from the store per intent.
	TopK int

	// MaxCandidates caps the candidates kept after threshold filtering.
	MaxCandidates int

	// TotalMaxTokens is the combined output budget, split across intents.
	TotalMaxTokens int

	// Temperature is passed to the model on every generation call.
	Temperature float32

	// OverallTimeout bounds the whole question end to end. Zero disables
	// the overall deadline; each branch still has its own attempt timeout.
	OverallTimeout time.Duration

	// Defaults fills entity placeholders and the cluster filter when the
	// caller omits them.
	Defaults rewrite.EntityParams
}

// Result is the complete outcome for one question.
type Result struct {
	// Answer is the rendered answer text. Never empty: total retrieval
	// failure yields the NotFoundMessage sentinel.
	Answer string

	// Sections lists the contributing sections in detection order.
	Sections []Section

	// Intents lists every detected intent, including empty branches.
	Intents []intent.Intent

	// Confidence is the mean similarity of contributing candidates, in [0, 1].
	Confidence float32

	// RetrievalMs is the slowest branch's retrieval time in milliseconds.
	RetrievalMs int64

	// GenerationMs is the slowest branch's generation time in milliseconds.
	GenerationMs int64
}

// Orchestrator runs the full pipeline for a question: detect intents once,
// fan out one branch per intent, and fan the answers back in. Branches are
// independent: a failure in one never surfaces in another, and the final
// ordering follows detection order regardless of completion order.
type Orchestrator struct {
	detector  *intent.Detector
	rewriter  *rewrite.Rewriter
	retriever rag.Retriever
	generator *Generator
	metrics   *Metrics
	cfg       Config
}

// NewOrchestrator wires the pipeline stages together.
func NewOrchestrator(detector *intent.Detector, rewriter *rewrite.Rewriter, retriever rag.Retriever, generator *Generator, metrics *Metrics, cfg Config) *Orchestrator {
	if cfg.TopK <= 0 {
		cfg.TopK = 6
	}
	if cfg.MaxCandidates <= 0 {
		cfg.MaxCandidates = DefaultMaxCandidates
	}
	if cfg.Temperature <= 0 {
		cfg.Temperature = 0.2
	}
	return &Orchestrator{
		detector:  detector,
		rewriter:  rewriter,
		retriever: retriever,
		generator: generator,
		metrics:   metrics,
		cfg:       cfg,
	}
}

// AskOptions overrides per-question knobs. Zero fields keep the
// configured defaults.
type AskOptions struct {
	// TopK overrides the per-intent retrieval depth.
	TopK int

	// TotalMaxTokens overrides the combined output budget.
	TotalMaxTokens int

	// Temperature overrides the model temperature. Negative values are
	// treated as unset.
	Temperature float32
}

// Ask answers one question with the configured defaults. It never returns
// an error: every failure mode degrades to an empty branch, and all-empty
// degrades to the sentinel.
func (o *Orchestrator) Ask(ctx context.Context, question string, params rewrite.EntityParams) *Result {
	return o.AskWith(ctx, question, params, AskOptions{})
}

// AskWith answers one question, applying per-question overrides.
func (o *Orchestrator) AskWith(ctx context.Context, question string, params rewrite.EntityParams, opts AskOptions) *Result {
	log := logging.FromContext(ctx)
	params = params.Merge(o.cfg.Defaults)

	topK := o.cfg.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	totalTokens := o.cfg.TotalMaxTokens
	if opts.TotalMaxTokens > 0 {
		totalTokens = opts.TotalMaxTokens
	}
	temperature := o.cfg.Temperature
	if opts.Temperature > 0 {
		temperature = opts.Temperature
	}

	intents := o.detector.Detect(question)
	perIntentTokens := budget.PerIntent(totalTokens, len(intents))

	log.Info("orchestrator: detected intents",
		slog.Int("count", len(intents)),
		slog.Int("tokens_per_intent", perIntentTokens),
	)

	branchCtx := ctx
	if o.cfg.OverallTimeout > 0 {
		var cancel context.CancelFunc
		branchCtx, cancel = context.WithTimeout(ctx, o.cfg.OverallTimeout)
		defer cancel()
	}

	// Fan out one goroutine per intent. Results land in a slice indexed by
	// detection order so the final answer is deterministic regardless of
	// which branch finishes first.
	var (
		mu        sync.Mutex
		answers   = make([]IntentAnswer, len(intents))
		completed = make([]bool, len(intents))
		retrMax   time.Duration
		genMax    time.Duration
	)

	var wg sync.WaitGroup
	for i, in := range intents {
		wg.Add(1)
		go func(i int, in intent.Intent) {
			defer wg.Done()
			ans, retrDur, genDur := o.runBranch(branchCtx, question, in, params, topK, perIntentTokens, temperature)

			mu.Lock()
			answers[i] = ans
			completed[i] = true
			if retrDur > retrMax {
				retrMax = retrDur
			}
			if genDur > genMax {
				genMax = genDur
			}
			mu.Unlock()

			o.metrics.branchesTotal.WithLabelValues(in.Family, string(ans.Status)).Inc()
			o.metrics.branchDurationSeconds.WithLabelValues(in.Family).Observe((retrDur + genDur).Seconds())
			o.metrics.branchCandidates.WithLabelValues(in.Family).Observe(float64(ans.Candidates))
		}(i, in)
	}

	waitDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(waitDone)
	}()

	select {
	case <-waitDone:
	case <-branchCtx.Done():
		log.Warn("orchestrator: overall deadline reached before all branches finished")
	}

	// Snapshot under the lock; branches that missed the deadline aggregate
	// as empty and may finish (harmlessly) in the background.
	mu.Lock()
	snapshot := make([]IntentAnswer, len(intents))
	for i := range intents {
		if completed[i] {
			snapshot[i] = answers[i]
		} else {
			snapshot[i] = IntentAnswer{
				Intent: intents[i],
				Text:   EmptyAnswer(intents[i]),
				Status: StatusEmpty,
			}
		}
	}
	retrievalMs := retrMax.Milliseconds()
	generationMs := genMax.Milliseconds()
	mu.Unlock()

	final := Aggregate(snapshot)

	outcome := "ok"
	if len(final.Sections) == 0 {
		outcome = "not_found"
	}
	o.metrics.questionsTotal.WithLabelValues(outcome).Inc()

	return &Result{
		Answer:       final.Answer,
		Sections:     final.Sections,
		Intents:      intents,
		Confidence:   final.Confidence,
		RetrievalMs:  retrievalMs,
		GenerationMs: generationMs,
	}
}

// runBranch executes one intent end to end: rewrite, retrieve, select,
// generate. Retrieval errors degrade to zero candidates so the branch
// still produces a well-formed answer.
func (o *Orchestrator) runBranch(ctx context.Context, question string, in intent.Intent, params rewrite.EntityParams, topK, maxTokens int, temperature float32) (IntentAnswer, time.Duration, time.Duration) {
	log := logging.FromContext(ctx)

	query := o.rewriter.Rewrite(question, in.Category, params)
	filter := o.branchFilter(in, params)

	retrStart := time.Now()
	results, err := o.retriever.Retrieve(ctx, query.Text, filter, topK)
	retrDur := time.Since(retrStart)
	if err != nil {
		log.Warn("orchestrator: retrieval failed, branch degrades to empty",
			slog.String("intent", in.Name),
			slog.String("error", err.Error()),
		)
		results = nil
	}

	candidates := Select(results, query.Threshold, o.cfg.MaxCandidates)

	genStart := time.Now()
	ans := o.generator.Generate(ctx, question, in, candidates, maxTokens, temperature)
	genDur := time.Since(genStart)

	return ans, retrDur, genDur
}

// branchFilter scopes retrieval to the intent's category (or whole family
// for category-less intents), the resolved cluster, and the intent's time
// window. Keyspace and table steer the rewritten query text instead of the
// filter so family-wide documents stay reachable.
func (o *Orchestrator) branchFilter(in intent.Intent, params rewrite.EntityParams) rag.SearchFilter {
	filter := rag.SearchFilter{
		Category: in.Category,
		Family:   in.Family,
		Cluster:  params.Cluster,
	}
	if in.TimeWindowDays > 0 {
		filter.From = time.Now().AddDate(0, 0, -in.TimeWindowDays)
	}
	return filter
}

// Collect runs detection, rewriting, and retrieval for a question without
// any generation, returning the merged candidates best-first with
// duplicates removed. The root-cause pipeline feeds on this.
func (o *Orchestrator) Collect(ctx context.Context, question string, params rewrite.EntityParams) ([]Candidate, []intent.Intent) {
	log := logging.FromContext(ctx)
	params = params.Merge(o.cfg.Defaults)

	intents := o.detector.Detect(question)

	var merged []Candidate
	seen := make(map[string]bool)

	for _, in := range intents {
		query := o.rewriter.Rewrite(question, in.Category, params)
		results, err := o.retriever.Retrieve(ctx, query.Text, o.branchFilter(in, params), o.cfg.TopK)
		if err != nil {
			log.Warn("orchestrator: collect retrieval failed",
				slog.String("intent", in.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		for _, c := range Select(results, query.Threshold, o.cfg.MaxCandidates) {
			if seen[c.Document.ID] {
				continue
			}
			seen[c.Document.ID] = true
			merged = append(merged, c)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	return merged, intents
}
