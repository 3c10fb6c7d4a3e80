package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/ad-tracker/video-aggregator-go/internal/errorlog"
)

const (
	maxSEOTitle       = 60
	maxSEODescription = 160
	maxPromptBody     = 4000
)

// ErrUnprocessableOutput is matched by every *OutputError.
var ErrUnprocessableOutput = errors.New("unprocessable model output")

// OutputError means the model answered but the answer had the wrong shape.
type OutputError struct {
	Task string
	Raw  string
	Err  error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.Task, ErrUnprocessableOutput, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }

func (e *OutputError) Is(target error) bool { return target == ErrUnprocessableOutput }

// Classification is the category and tag assignment for one video.
type Classification struct {
	Categories []string `json:"categories" validate:"required"`
	Tags       []string `json:"tags" validate:"required"`
}

// EmptyClassification is the fallback used when the model output is unusable.
func EmptyClassification() *Classification {
	return &Classification{Categories: []string{}, Tags: []string{}}
}

// ClassifyRequest describes a video to classify. Module names the caller in
// error logs. When Fallback is set, unusable output returns it instead of an error.
type ClassifyRequest struct {
	Title       string
	Description string
	Module      string
	Fallback    *Classification
}

// SEO is generated title and meta description copy.
type SEO struct {
	Title       string `json:"title" validate:"required,max=60"`
	Description string `json:"description" validate:"required,max=160"`
}

// FallbackSEO truncates the original title and description to SEO limits.
func FallbackSEO(title, description string) *SEO {
	return &SEO{
		Title:       truncateRunes(strings.TrimSpace(title), maxSEOTitle),
		Description: truncateRunes(strings.TrimSpace(description), maxSEODescription),
	}
}

type summary struct {
	Summary string `json:"summary" validate:"required"`
}

// Classify assigns categories and tags to a video.
func (c *Client) Classify(ctx context.Context, req ClassifyRequest) (*Classification, error) {
	raw, err := c.generate(ctx, classifyPrompt(req.Title, req.Description))
	if err != nil {
		c.report(errorlog.TypeAI, "classify", req.Title, req.Module, err)
		return nil, err
	}

	var out Classification
	if err := c.decode("classify", raw, &out); err != nil {
		c.report(errorlog.TypeAIOutput, "classify", req.Title, req.Module, err)
		if req.Fallback != nil {
			return normalizeFallback(req.Fallback), nil
		}
		return nil, err
	}

	out.Categories = cleanList(out.Categories)
	out.Tags = cleanList(out.Tags)
	return &out, nil
}

// Summarize returns a short plain-text summary of a video.
func (c *Client) Summarize(ctx context.Context, title, description string) (string, error) {
	raw, err := c.generate(ctx, summaryPrompt(title, description))
	if err != nil {
		c.report(errorlog.TypeAI, "summarize", title, "", err)
		return "", err
	}

	var out summary
	if err := c.decode("summarize", raw, &out); err != nil {
		c.report(errorlog.TypeAIOutput, "summarize", title, "", err)
		return "", err
	}
	return strings.TrimSpace(out.Summary), nil
}

// GenerateSEO writes a title and meta description within search-result limits.
func (c *Client) GenerateSEO(ctx context.Context, title, description string, fallback *SEO) (*SEO, error) {
	raw, err := c.generate(ctx, seoPrompt(title, description))
	if err != nil {
		c.report(errorlog.TypeAI, "seo", title, "", err)
		return nil, err
	}

	var out SEO
	if err := c.decode("seo", raw, &out); err != nil {
		c.report(errorlog.TypeAIOutput, "seo", title, "", err)
		if fallback != nil {
			return fallback, nil
		}
		return nil, err
	}
	return &out, nil
}

// decode parses model text into dst and validates its shape.
func (c *Client) decode(task, raw string, dst any) error {
	text := stripFences(raw)
	if text == "" {
		c.metrics.AIRequest("invalid_output")
		return &OutputError{Task: task, Raw: raw, Err: errors.New("empty response")}
	}

	if err := json.Unmarshal([]byte(text), dst); err != nil {
		c.metrics.AIRequest("invalid_output")
		return &OutputError{Task: task, Raw: raw, Err: err}
	}

	if err := c.validate.Struct(dst); err != nil {
		c.metrics.AIRequest("invalid_output")
		return &OutputError{Task: task, Raw: raw, Err: err}
	}
	return nil
}

func (c *Client) report(kind, task, title, module string, err error) {
	c.log.Warn("ai task failed",
		zap.String("task", task),
		zap.String("title", title),
		zap.String("module", module),
		zap.Error(err))

	ctx := map[string]any{"task": task, "title": title}
	var oe *OutputError
	if errors.As(err, &oe) {
		ctx["raw"] = truncateRunes(oe.Raw, 500)
	}
	c.errors.Record(errorlog.Entry{
		Level:   errorlog.LevelError,
		Type:    kind,
		Message: err.Error(),
		Module:  module,
		Context: ctx,
	})
}

// stripFences removes a surrounding Markdown code fence such as ```json ... ```.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 && !strings.ContainsAny(s[:nl], "{[") {
		s = s[nl+1:]
	}
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func normalizeFallback(f *Classification) *Classification {
	out := &Classification{Categories: f.Categories, Tags: f.Tags}
	if out.Categories == nil {
		out.Categories = []string{}
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return out
}

// cleanList trims entries, drops blanks and removes case-insensitive duplicates.
func cleanList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		key := strings.ToLower(v)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, v)
	}
	return out
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n]))
}

func classifyPrompt(title, description string) string {
	return fmt.Sprintf(`You are categorising an online video for a catalog.

Video Title: %s

Video Description:
%s

Return your response as JSON in this exact format:
{
  "categories": ["Category", "Another Category"],
  "tags": ["tag", "another tag"]
}

Use one to three broad categories and up to ten short lowercase tags.
If nothing fits, return empty arrays. Only return the JSON, no additional text.`,
		title, truncateRunes(description, maxPromptBody))
}

func summaryPrompt(title, description string) string {
	return fmt.Sprintf(`Summarise this online video in at most two plain sentences.

Video Title: %s

Video Description:
%s

Return your response as JSON in this exact format:
{"summary": "..."}

Only return the JSON, no additional text.`, title, truncateRunes(description, maxPromptBody))
}

func seoPrompt(title, description string) string {
	return fmt.Sprintf(`Write search-engine copy for this online video.

Video Title: %s

Video Description:
%s

The title must be at most %d characters and the description at most %d characters.
Return your response as JSON in this exact format:
{"title": "...", "description": "..."}

Only return the JSON, no additional text.`,
		title, truncateRunes(description, maxPromptBody), maxSEOTitle, maxSEODescription)
}
