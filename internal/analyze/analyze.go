// Package analyze classifies incoming messages with a fast side model.
//
// The analyzer decides whether a message needs a web search, normalises city
// names for the weather lookup, and extracts personal facts for the long-term
// store. Every LLM call here is best-effort: on any failure the analyzer
// falls back to keyword heuristics so the response path keeps moving.
package analyze

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/Sqrilizz/BixlandAI/pkg/provider/llm"
)

// Analysis is the classification of one message.
type Analysis struct {
	// Type is one of "question", "statement", "command", "greeting".
	Type string `json:"type"`
	// Sentiment is one of "positive", "negative", "neutral".
	Sentiment string `json:"sentiment"`
	// NeedsSearch reports whether answering requires fresh information from
	// the web.
	NeedsSearch bool `json:"needs_search"`
}

const analyzeSystem = `Ты классификатор сообщений. Ответь строго одним JSON-объектом вида
{"type":"question|statement|command|greeting","sentiment":"positive|negative|neutral","needs_search":true|false}.
needs_search = true только если для ответа нужны свежие данные из интернета
(новости, события, факты о людях, цены, результаты матчей).`

const citySystem = `Приведи название города в именительный падеж и ответь только самим названием,
без пояснений. Например: "москве" -> "Москва", "питере" -> "Санкт-Петербург".`

const factsSystem = `Выдели из сообщения личные факты о пользователе (имя, возраст, город, работа,
увлечения, предпочтения). Ответь JSON-массивом коротких строк на русском.
Если фактов нет, ответь [].`

// searchKeywords trigger the heuristic fallback when the model is unavailable.
var searchKeywords = []string{
	"найди", "поищи", "погугли", "загугли", "новост",
	"кто такой", "кто такая", "что такое", "что случилось",
	"сколько стоит", "курс", "счёт матча",
}

// Analyzer wraps the side model. Safe for concurrent use.
type Analyzer struct {
	completer llm.Completer
	log       *slog.Logger
}

// New creates an Analyzer. completer may be nil, in which case only the
// keyword heuristics are used.
func New(completer llm.Completer) *Analyzer {
	return &Analyzer{
		completer: completer,
		log:       slog.Default().With("component", "analyze"),
	}
}

// Analyze classifies the message. Falls back to heuristics when the model
// call fails or returns malformed JSON.
func (a *Analyzer) Analyze(ctx context.Context, text string) Analysis {
	if a.completer != nil {
		raw, err := a.completer.Complete(ctx, analyzeSystem, text)
		if err == nil {
			var an Analysis
			if jsonErr := json.Unmarshal([]byte(extractJSON(raw)), &an); jsonErr == nil && an.Type != "" {
				return an
			}
		} else {
			a.log.Debug("analyze model call failed, using heuristics", "err", err)
		}
	}
	return heuristicAnalysis(text)
}

// NormalizeCity converts a city name from whatever grammatical case the user
// typed into the nominative form the weather API expects. Returns the input
// unchanged when the model is unavailable.
func (a *Analyzer) NormalizeCity(ctx context.Context, raw string) string {
	if a.completer == nil || raw == "" {
		return raw
	}
	out, err := a.completer.Complete(ctx, citySystem, raw)
	if err != nil {
		a.log.Debug("city normalisation failed", "city", raw, "err", err)
		return raw
	}
	out = strings.TrimSpace(strings.Trim(strings.TrimSpace(out), `"«»`))
	if out == "" {
		return raw
	}
	return out
}

// ExtractFacts pulls durable personal facts out of the message for the
// long-term user store. Returns nil when nothing was found or the model is
// unavailable.
func (a *Analyzer) ExtractFacts(ctx context.Context, text string) []string {
	if a.completer == nil {
		return nil
	}
	raw, err := a.completer.Complete(ctx, factsSystem, text)
	if err != nil {
		a.log.Debug("fact extraction failed", "err", err)
		return nil
	}

	var facts []string
	if err := json.Unmarshal([]byte(extractJSONArray(raw)), &facts); err != nil {
		return nil
	}
	out := facts[:0]
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// heuristicAnalysis is the no-model fallback classification.
func heuristicAnalysis(text string) Analysis {
	lower := strings.ToLower(text)

	an := Analysis{Type: "statement", Sentiment: "neutral"}
	switch {
	case strings.Contains(lower, "привет") || strings.Contains(lower, "здравствуй") ||
		strings.Contains(lower, "добрый день"):
		an.Type = "greeting"
	case strings.Contains(text, "?") || strings.HasPrefix(lower, "кто") ||
		strings.HasPrefix(lower, "что") || strings.HasPrefix(lower, "когда") ||
		strings.HasPrefix(lower, "почему") || strings.HasPrefix(lower, "сколько"):
		an.Type = "question"
	}
	for _, kw := range searchKeywords {
		if strings.Contains(lower, kw) {
			an.NeedsSearch = true
			break
		}
	}
	return an
}

// extractJSON cuts the first {...} block out of a model reply that may be
// wrapped in prose or code fences.
func extractJSON(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}

// extractJSONArray cuts the first [...] block out of a model reply.
func extractJSONArray(raw string) string {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return raw
	}
	return raw[start : end+1]
}
