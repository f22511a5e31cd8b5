package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/DataDog/datadog-go/statsd"
	"github.com/adjust/rmq/v5"
	"github.com/go-redis/redis/v8"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/therealityreport/socializer-backend/internal/aggregator"
	"github.com/therealityreport/socializer-backend/internal/config"
	"github.com/therealityreport/socializer-backend/internal/domain"
	"github.com/therealityreport/socializer-backend/internal/linker"
	"github.com/therealityreport/socializer-backend/internal/queue"
	"github.com/therealityreport/socializer-backend/internal/repository"
	"github.com/therealityreport/socializer-backend/internal/sentiment"
)

type mlWorker struct {
	logger    *zap.Logger
	statsd    statsd.ClientInterface
	db        *pgxpool.Pool
	conn      rmq.Connection
	consumers int

	pipeline     *sentiment.Pipeline
	publisher    *queue.Publisher
	runner       *queue.Runner
	roster       map[string][]string
	modelVersion string

	commentRepo domain.CommentRepository
	mentionRepo domain.MentionRepository
	castRepo    domain.CastMemberRepository
}

func NewMLWorker(logger *zap.Logger, statsd statsd.ClientInterface, db *pgxpool.Pool, redisConn *redis.Client, queueConn rmq.Connection, cfg config.Settings, consumers int) (Worker, error) {
	primary := sentiment.NewInferenceClient(cfg.Sentiment)

	var fallback *sentiment.OpinionsClient
	if cfg.Sentiment.FallbackEnabled {
		fallback = sentiment.NewOpinionsClient(cfg.Sentiment)
	}

	pipeline := sentiment.NewPipeline(context.Background(), logger, statsd, cfg.Sentiment, primary, fallback)

	// A configured roster that fails to parse is a deploy mistake; refuse to
	// run rather than silently link without it.
	roster, err := linker.LoadRoster(cfg.RosterPath)
	if err != nil {
		return nil, err
	}

	publisher, err := queue.NewPublisher(logger, statsd, redisConn, queueConn)
	if err != nil {
		return nil, err
	}

	mw := &mlWorker{
		logger:       logger,
		statsd:       statsd,
		db:           db,
		conn:         queueConn,
		consumers:    consumers,
		pipeline:     pipeline,
		publisher:    publisher,
		roster:       roster,
		modelVersion: cfg.Sentiment.ModelVersion,
		commentRepo:  repository.NewPostgresComment(db),
		mentionRepo:  repository.NewPostgresMention(db),
		castRepo:     repository.NewPostgresCastMember(db),
	}

	mw.runner = queue.NewRunner(logger, statsd, publisher, cfg.Queue.TaskTimeLimit, map[string]queue.Handler{
		queue.TaskClassifyComments:  mw.classifyComments,
		queue.TaskLinkEntities:      mw.linkEntities,
		queue.TaskComputeAggregates: mw.computeAggregates,
	})

	return mw, nil
}

func (mw *mlWorker) Start() error {
	q, err := mw.conn.OpenQueue(queue.QueueML)
	if err != nil {
		return err
	}

	mw.logger.Info("starting up ml worker", zap.Int("consumers", mw.consumers))

	prefetchLimit := int64(mw.consumers * 2)

	if err := q.StartConsuming(prefetchLimit, pollDuration); err != nil {
		return err
	}

	host, _ := os.Hostname()

	for i := 0; i < mw.consumers; i++ {
		name := fmt.Sprintf("consumer %s-%d", host, i)

		consumer := NewMLConsumer(mw, i)
		if _, err := q.AddConsumer(name, consumer); err != nil {
			return err
		}
	}

	return nil
}

func (mw *mlWorker) Stop() {
	<-mw.conn.StopAllConsuming() // wait for all Consume() calls to finish
}

type modelScore struct {
	Model string  `json:"model"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

type sentimentBreakdown struct {
	Models    []modelScore    `json:"models"`
	Probs     sentiment.Probs `json:"probs"`
	Reasoning string          `json:"reasoning,omitempty"`
}

func (mw *mlWorker) classifyComments(ctx context.Context, env *queue.Envelope) error {
	var args queue.ClassifyCommentsArgs
	if err := env.DecodeArgs(&args); err != nil {
		return err
	}
	if len(args.CommentIDs) == 0 {
		return nil
	}

	comments, err := mw.commentRepo.GetByIDs(ctx, args.CommentIDs)
	if err != nil {
		return err
	}

	att := mw.pipeline.Attenuation()

	classified := make([]int64, 0, len(comments))
	for i := range comments {
		comment := &comments[i]

		result := mw.pipeline.AnalyzeComment(ctx, comment.Body)

		breakdown := sentimentBreakdown{
			Models:    make([]modelScore, len(result.Models)),
			Probs:     result.Final.Probs,
			Reasoning: result.Final.Reasoning,
		}
		for j, m := range result.Models {
			breakdown.Models[j] = modelScore{Model: m.Model, Label: string(m.Label), Score: m.Score}
		}

		raw, err := json.Marshal(breakdown)
		if err != nil {
			return err
		}

		comment.SentimentLabel = result.Final.Label
		comment.SentimentScore = result.Final.Score
		comment.SentimentBreakdown = raw
		comment.IsSarcastic = flagged(result.Final.Sarcasm, att.SarcasmThreshold)
		comment.SarcasmConfidence = result.Final.Sarcasm.Confidence
		comment.IsToxic = flagged(result.Final.Toxicity, att.ToxicityThreshold)
		comment.ToxicityConfidence = result.Final.Toxicity.Confidence
		comment.ModelVersion = mw.modelVersion

		if err := mw.commentRepo.UpdateSentiment(ctx, comment); err != nil {
			return err
		}

		classified = append(classified, comment.ID)
	}

	if len(classified) == 0 {
		return nil
	}

	_, err = mw.publisher.Publish(ctx, queue.TaskLinkEntities, queue.LinkEntitiesArgs{CommentIDs: classified})
	return err
}

func (mw *mlWorker) linkEntities(ctx context.Context, env *queue.Envelope) error {
	var args queue.LinkEntitiesArgs
	if err := env.DecodeArgs(&args); err != nil {
		return err
	}
	if len(args.CommentIDs) == 0 {
		return nil
	}

	catalog, err := mw.loadCatalog(ctx)
	if err != nil {
		return err
	}

	comments, err := mw.commentRepo.GetByIDs(ctx, args.CommentIDs)
	if err != nil {
		return err
	}

	threads := map[int64]bool{}
	var linked int64
	for i := range comments {
		count, err := mw.linkComment(ctx, catalog, &comments[i])
		if err != nil {
			return err
		}

		linked += int64(count)
		threads[comments[i].ThreadID] = true
	}

	_ = mw.statsd.Count("socializer.linker.mentions", linked, nil, 1)

	for threadID := range threads {
		if _, err := mw.publisher.Publish(ctx, queue.TaskComputeAggregates, queue.ComputeAggregatesArgs{ThreadID: threadID}); err != nil {
			return err
		}
	}

	return nil
}

// loadCatalog builds a fresh catalog per batch, so cast roster edits apply
// without a worker restart.
func (mw *mlWorker) loadCatalog(ctx context.Context) (*linker.Catalog, error) {
	members, err := mw.castRepo.ListActive(ctx)
	if err != nil {
		return nil, err
	}

	return linker.NewCatalog(members, mw.roster), nil
}

func (mw *mlWorker) linkComment(ctx context.Context, catalog *linker.Catalog, comment *domain.Comment) (int, error) {
	if err := mw.mentionRepo.DeleteByComment(ctx, comment.ID, comment.CreatedAt); err != nil {
		return 0, err
	}

	candidates := catalog.FindMentions(comment.Body)

	var parentBody string
	if !comment.Root() {
		parent, err := mw.commentRepo.GetByRedditID(ctx, comment.ThreadID, comment.ParentRedditID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			// Parent never ingested; nothing to inherit.
		case err != nil:
			return 0, err
		default:
			parentBody = parent.Body

			parentMentions, err := mw.mentionRepo.ListByComment(ctx, parent.ID, parent.CreatedAt)
			if err != nil {
				return 0, err
			}
			candidates = catalog.InheritFromParent(candidates, parentMentions)
		}
	}

	if len(candidates) == 0 {
		return 0, nil
	}

	contexts := make([]sentiment.MentionContext, len(candidates))
	for i, candidate := range candidates {
		contexts[i] = sentiment.MentionContext{
			CastMemberID: candidate.CastMemberID,
			Alias:        candidate.Quote,
			Aliases:      catalog.AliasesFor(candidate.CastMemberID),
			Context:      catalog.BuildContext(candidate, comment.Body, parentBody),
		}
	}

	scores := mw.pipeline.AnalyzeMentions(ctx, comment.Body, contexts)

	att := mw.pipeline.Attenuation()

	mentions := make([]*domain.Mention, len(candidates))
	for i, candidate := range candidates {
		ns := scores[i]

		mentions[i] = &domain.Mention{
			CommentID:        comment.ID,
			CommentCreatedAt: comment.CreatedAt,
			CastMemberID:     candidate.CastMemberID,
			SentimentLabel:   ns.Label,
			SentimentScore:   att.Apply(ns.Score, ns.Sarcasm, ns.Toxicity),
			Confidence:       candidate.Confidence,
			Method:           candidate.Method,
			Quote:            candidate.Quote,
			IsSarcastic:      flagged(ns.Sarcasm, att.SarcasmThreshold),
			IsToxic:          flagged(ns.Toxicity, att.ToxicityThreshold),
		}
	}

	if err := mw.mentionRepo.CreateBatch(ctx, mentions); err != nil {
		return 0, err
	}

	return len(mentions), nil
}

func (mw *mlWorker) computeAggregates(ctx context.Context, env *queue.Envelope) error {
	var args queue.ComputeAggregatesArgs
	if err := env.DecodeArgs(&args); err != nil {
		return err
	}

	mentions, err := mw.mentionRepo.ListForThread(ctx, args.ThreadID)
	if err != nil {
		return err
	}

	result := aggregator.Compute(args.ThreadID, mentions, time.Now().UTC())
	rows := result.Rows()

	err = pgx.BeginFunc(ctx, mw.db, func(tx pgx.Tx) error {
		return repository.NewPostgresAggregate(tx).ReplaceForThread(ctx, args.ThreadID, rows)
	})
	if err != nil {
		return err
	}

	mw.logger.Debug("recomputed aggregates",
		zap.Int64("thread#id", args.ThreadID),
		zap.Int64("thread#mentions", result.TotalMentions),
		zap.Int("aggregate#rows", len(rows)),
	)

	_, err = mw.publisher.Publish(ctx, queue.TaskCheckAlerts, queue.CheckAlertsArgs{ThreadID: args.ThreadID})
	return err
}

// flagged applies the same gate the attenuator uses for soft confidences.
func flagged(d sentiment.Detection, threshold float64) bool {
	return d.Detected || (threshold > 0 && d.Confidence >= threshold)
}

type mlConsumer struct {
	*mlWorker
	tag int
}

func NewMLConsumer(mw *mlWorker, tag int) *mlConsumer {
	return &mlConsumer{mw, tag}
}

func (mc *mlConsumer) Consume(delivery rmq.Delivery) {
	mc.runner.Process(delivery)
}
