// Package poller drives the single-threaded cooperative loop that turns bot
// conversations into CRM cases: fetch, dispatch each conversation through
// the reconciler, aggregate, sleep, repeat.
package poller

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/casebridge/casebridge/conversations"
	"github.com/casebridge/casebridge/crm"
	apperrors "github.com/casebridge/casebridge/internal/errors"
	"github.com/casebridge/casebridge/store"
)

// ConversationSource lists conversations and their messages.
type ConversationSource interface {
	ListConversations(ctx context.Context, botID string) ([]conversations.Conversation, error)
	ListMessages(ctx context.Context, conversationID string) ([]conversations.Message, error)
}

// CaseReconciler maps a conversation to exactly one CRM case.
type CaseReconciler interface {
	CreateOrReuse(ctx context.Context, correlationID, subject, description string, fields map[string]string) (crm.CaseResult, error)
}

// CycleResult aggregates one poll cycle.
type CycleResult struct {
	Found     int
	Processed int
	Skipped   int
	Errors    int
	Duration  time.Duration
}

// Scheduler runs poll cycles until its context is cancelled. Conversations
// are processed strictly sequentially; one slow or failing conversation
// never parallelizes load onto the CRM, and its failure never aborts the
// cycle.
type Scheduler struct {
	source        ConversationSource
	reconciler    CaseReconciler
	repo          store.Repo
	botID         string
	interval      time.Duration
	subjectPrefix string
	log           zerolog.Logger
	nowFunc       func() time.Time
	totals        Totals
}

type SchedulerOption func(*Scheduler)

func WithSchedulerLogger(log zerolog.Logger) SchedulerOption {
	return func(s *Scheduler) {
		s.log = log
	}
}

func WithSchedulerNowFunc(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) {
		s.nowFunc = now
	}
}

// WithProcessedMarkers records empty conversations in the store so later
// cycles skip them without refetching their messages.
func WithProcessedMarkers(repo store.Repo) SchedulerOption {
	return func(s *Scheduler) {
		s.repo = repo
	}
}

func WithSubjectPrefix(prefix string) SchedulerOption {
	return func(s *Scheduler) {
		s.subjectPrefix = prefix
	}
}

func NewScheduler(source ConversationSource, reconciler CaseReconciler, botID string, interval time.Duration, options ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		source:        source,
		reconciler:    reconciler,
		botID:         botID,
		interval:      interval,
		subjectPrefix: "Chat",
		log:           zerolog.Nop(),
		nowFunc:       time.Now,
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

// Totals returns the running outcome counters.
func (s *Scheduler) Totals() TotalsSnapshot {
	return s.totals.Snapshot()
}

// Run polls until ctx is cancelled. After a cycle that observed a rate-limit
// signal the next wait is doubled; any other cycle failure is logged and the
// normal interval applies. The inter-cycle wait itself is interruptible, so
// shutdown latency stays bounded regardless of the configured interval.
func (s *Scheduler) Run(ctx context.Context) {
	s.log.Info().Str("bot_id", s.botID).Dur("interval", s.interval).Msg("starting conversation poller")
	s.totals.start(s.nowFunc())

	for {
		if ctx.Err() != nil {
			s.log.Info().Msg("poller stopped")
			return
		}

		result, err := s.RunCycle(ctx)
		wait := s.interval
		switch {
		case ctx.Err() != nil:
			// Cancelled mid-cycle: abort immediately, no sleep.
			s.log.Info().Msg("poller stopped")
			return
		case err != nil && apperrors.Is(err, apperrors.ErrRateLimited):
			wait = s.interval * 2
			s.log.Warn().Err(err).Dur("wait", wait).Msg("rate limit observed, doubling inter-cycle wait")
		case err != nil:
			s.log.Error().Err(err).Msg("poll cycle failed")
		default:
			s.log.Info().
				Int("found", result.Found).
				Int("processed", result.Processed).
				Int("skipped", result.Skipped).
				Int("errors", result.Errors).
				Dur("duration", result.Duration).
				Msg("poll cycle complete")
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("poller stopped")
			return
		case <-time.After(wait):
		}
	}
}

// RunCycle executes one fetch/process/aggregate pass. A per-conversation
// failure increments the error counter and processing continues; the
// returned error is cycle-level only (fetch failure, cancellation, or an
// observed rate-limit signal).
func (s *Scheduler) RunCycle(ctx context.Context) (CycleResult, error) {
	cycleLog := s.log.With().Str("cycle_id", uuid.NewString()).Logger()
	started := s.nowFunc()
	var result CycleResult
	defer func() {
		result.Duration = s.nowFunc().Sub(started)
		s.totals.recordCycle(result, s.nowFunc())
	}()

	convs, err := s.source.ListConversations(ctx, s.botID)
	if err != nil {
		result.Errors++
		return result, apperrors.Wrapf(err, "poller.Scheduler.RunCycle ListConversations")
	}
	result.Found = len(convs)
	cycleLog.Info().Int("found", result.Found).Msg("fetched conversations")
	if result.Found == 0 {
		return result, nil
	}

	var rateLimited error
	for _, conv := range convs {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := s.processConversation(ctx, cycleLog, conv, &result); err != nil {
			if ctx.Err() != nil {
				return result, ctx.Err()
			}
			result.Errors++
			if apperrors.Is(err, apperrors.ErrRateLimited) && rateLimited == nil {
				rateLimited = err
			}
			cycleLog.Error().Err(err).Str("conversation_id", string(conv.ID)).Msg("failed to process conversation")
		}
	}

	if rateLimited != nil {
		return result, fmt.Errorf("poller.Scheduler.RunCycle: %w", rateLimited)
	}
	return result, nil
}

func (s *Scheduler) processConversation(ctx context.Context, log zerolog.Logger, conv conversations.Conversation, result *CycleResult) error {
	convID := string(conv.ID)
	if convID == "" {
		return nil
	}

	if s.repo != nil {
		if done, err := store.IsProcessed(ctx, s.repo, convID); err != nil {
			log.Warn().Err(err).Str("conversation_id", convID).Msg("processed-marker lookup failed")
		} else if done {
			result.Skipped++
			return nil
		}
	}

	messages, err := s.source.ListMessages(ctx, convID)
	if err != nil {
		return apperrors.Wrapf(err, "ListMessages %s", convID)
	}

	transcript := conversations.FormatTranscript(messages)
	if transcript == "" {
		// Nothing to file a case over; remember that so the conversation is
		// never refetched or submitted.
		log.Info().Str("conversation_id", convID).Msg("conversation has no content, marking processed")
		if s.repo != nil {
			if err := store.MarkProcessed(ctx, s.repo, convID); err != nil {
				log.Warn().Err(err).Str("conversation_id", convID).Msg("failed to mark conversation processed")
			}
		}
		result.Skipped++
		return nil
	}

	caseResult, err := s.reconciler.CreateOrReuse(ctx, convID, s.subject(conv), transcript, conversations.MessageStats(messages))
	if err != nil {
		return apperrors.Wrapf(err, "CreateOrReuse %s", convID)
	}

	result.Processed++
	if caseResult.WasCreated {
		s.totals.recordCaseCreated(s.nowFunc())
		log.Info().Str("case_id", caseResult.CaseID).Str("conversation_id", convID).Msg("new case created")
	} else {
		result.Skipped++
		log.Info().Str("case_id", caseResult.CaseID).Str("conversation_id", convID).Msg("existing case found")
	}
	return nil
}

// subject builds a concise case subject from the conversation timestamp,
// falling back to the current time when the conversation carries none.
func (s *Scheduler) subject(conv conversations.Conversation) string {
	at := s.nowFunc().UTC()
	if conv.CreatedAt > 0 {
		at = time.Unix(conv.CreatedAt, 0).UTC()
	}
	return s.subjectPrefix + " - " + at.Format("2006-01-02 15:04")
}
