package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	_ "embed"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kvinther/job-agent/internal/ai"
	"github.com/kvinther/job-agent/internal/feedback"
	"github.com/kvinther/job-agent/internal/listing"
	"github.com/kvinther/job-agent/internal/logger"
	"github.com/kvinther/job-agent/internal/profile"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, prompt string) (string, error)
}

//go:embed prompt.md
var promptTemplate string

const (
	defaultMaxLogLength = 200
	defaultMaxRetries   = 3
	// The prompt carries at most this many runes of a listing's raw text.
	defaultMaxRawTextRunes = 2000
)

// Config tunes retry, throughput and logging behavior of the scorer.
type Config struct {
	// MaxRetries bounds additional attempts after the first call.
	MaxRetries int
	// RequestsPerMinute caps the call rate to the Gemini API. Zero disables
	// the limiter.
	RequestsPerMinute int
	MaxLogLength      int
}

// Scorer implements ai.Scorer on top of a Gemini content generator. One call
// per listing; transient failures and malformed responses are retried with
// exponential backoff until the retry budget runs out.
type Scorer struct {
	generator      contentGenerator
	limiter        *rate.Limiter
	maxRetries     uint64
	maxLogLen      int
	logger         *zap.Logger
	backoffFactory func() backoff.BackOff
}

func NewScorer(generator contentGenerator, cfg Config, log *zap.Logger) *Scorer {
	if log == nil {
		log = zap.NewNop()
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	maxLogLen := cfg.MaxLogLength
	if maxLogLen <= 0 {
		maxLogLen = defaultMaxLogLength
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return &Scorer{
		generator:  generator,
		limiter:    limiter,
		maxRetries: uint64(maxRetries),
		maxLogLen:  maxLogLen,
		logger:     log,
		backoffFactory: func() backoff.BackOff {
			return backoff.NewExponentialBackOff()
		},
	}
}

// Score builds the scoring context for one listing and calls Gemini. The
// returned value is always within [0,100]; out-of-range values are clamped
// with a logged warning rather than rejected.
func (s *Scorer) Score(ctx context.Context, l *listing.Listing, p *profile.CandidateProfile, history feedback.Context, bias *feedback.AggregateBias) (*ai.Assessment, error) {
	if l == nil {
		return nil, fmt.Errorf("listing is required")
	}
	if p == nil {
		return nil, fmt.Errorf("profile is required")
	}

	prompt, err := s.buildPrompt(l, p, history, bias)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("gemini scoring request",
		zap.String("fingerprint", l.Fingerprint),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", logger.TruncateForLog(prompt, s.maxLogLen)),
	)

	var assessment *ai.Assessment
	op := func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		raw, err := s.generator.GenerateContent(ctx, prompt)
		if err != nil {
			return err
		}

		parsed, err := parseResponse(raw)
		if err != nil {
			// A malformed response is transient: the model may produce
			// valid JSON on the next attempt.
			return err
		}

		parsed.Raw = raw
		assessment = parsed
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(s.backoffFactory(), s.maxRetries), ctx)
	notify := func(err error, next time.Duration) {
		s.logger.Warn("gemini call failed, retrying",
			zap.String("fingerprint", l.Fingerprint),
			zap.Duration("backoff", next),
			zap.Error(err),
		)
	}

	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, fmt.Errorf("score listing %s: %w", l.Fingerprint, err)
	}

	s.clamp(l.Fingerprint, assessment)

	s.logger.Debug("gemini scoring response",
		zap.String("fingerprint", l.Fingerprint),
		zap.Int("score", assessment.Value),
		zap.String("response_preview", logger.TruncateForLog(assessment.Raw, s.maxLogLen)),
	)

	return assessment, nil
}

func (s *Scorer) buildPrompt(l *listing.Listing, p *profile.CandidateProfile, history feedback.Context, bias *feedback.AggregateBias) (string, error) {
	payload := map[string]any{
		"title":    l.Title,
		"company":  l.Company,
		"location": l.Location,
		"sector":   sectorOrUnknown(l.Sector),
		"source":   l.Source,
		"url":      l.URL,
	}
	if text := truncateRunes(l.RawText, defaultMaxRawTextRunes); text != "" {
		payload["description"] = text
	}

	listingJSON, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal listing payload: %w", err)
	}

	prompt := strings.ReplaceAll(promptTemplate, "{{PROFILE}}", p.PromptText())
	prompt = strings.ReplaceAll(prompt, "{{FEEDBACK}}", history.PromptSection())
	prompt = strings.ReplaceAll(prompt, "{{AGGREGATE_BIAS}}", bias.PromptSection())
	prompt = strings.ReplaceAll(prompt, "{{LISTING_JSON}}", string(listingJSON))
	return prompt, nil
}

func (s *Scorer) clamp(fingerprint string, a *ai.Assessment) {
	if a.Value >= 0 && a.Value <= 100 {
		return
	}

	clamped := a.Value
	if clamped < 0 {
		clamped = 0
	}
	if clamped > 100 {
		clamped = 100
	}

	s.logger.Warn("score outside [0,100], clamping",
		zap.String("fingerprint", fingerprint),
		zap.Int("raw_score", a.Value),
		zap.Int("clamped_score", clamped),
	)
	a.Value = clamped
}

func parseResponse(raw string) (*ai.Assessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	score, err := coerceInt(data["score"])
	if err != nil {
		return nil, fmt.Errorf("parse gemini score: %w", err)
	}

	rationale := coerceString(data["rationale"])
	if rationale == "" {
		rationale = coerceString(data["reasoning"])
	}

	return &ai.Assessment{
		Value:      score,
		Rationale:  rationale,
		Highlights: coerceStringSlice(data["highlights"]),
		Concerns:   coerceStringSlice(data["concerns"]),
	}, nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	return strings.TrimSpace(raw)
}

func coerceInt(v any) (int, error) {
	switch val := v.(type) {
	case float64:
		if math.IsNaN(val) || math.IsInf(val, 0) {
			return 0, fmt.Errorf("score is not a finite number")
		}
		return int(math.Round(val)), nil
	case int:
		return val, nil
	case string:
		trimmed := strings.TrimSpace(val)
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, fmt.Errorf("score %q is not numeric", val)
		}
		return int(math.Round(f)), nil
	default:
		return 0, fmt.Errorf("score is missing or has unexpected type %T", v)
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		return ""
	}
}

func coerceStringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		return nil
	}
	result := make([]string, 0, len(items))
	for _, item := range items {
		if s := coerceString(item); s != "" {
			result = append(result, s)
		}
	}
	return result
}

func truncateRunes(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}

func sectorOrUnknown(s string) string {
	if strings.TrimSpace(s) == "" {
		return "unknown"
	}
	return s
}
