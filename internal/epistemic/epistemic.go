// Package epistemic pulls durable facts out of finished exchanges so the
// memory store grows as the assistant is used.
package epistemic

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// Fact types written to memory.
const (
	TypeUserPreference = "user_preference"
	TypeTechnical      = "technical"
	TypeTaskPattern    = "task_pattern"
)

const (
	sourceConversation = "conversation"
	sourceToolUsage    = "tool_usage"

	maxDefinitions = 3
	exampleRunes   = 100
)

// Fact is one piece of knowledge extracted from an exchange.
type Fact struct {
	Type       string
	Content    string
	Source     string
	Confidence float64
}

// Learner stores facts. memory.Engine satisfies it.
type Learner interface {
	LearnFact(factType, content, source string, confidence float64) (bool, error)
}

type userPattern struct {
	re     *regexp.Regexp
	format func(m []string) string
}

func label(name string) func([]string) string {
	return func(m []string) string { return name + ": " + strings.TrimSpace(m[1]) }
}

var userPatterns = []userPattern{
	{regexp.MustCompile(`\bi (?:like|love|prefer|enjoy) ([^.,!?\n]+)`), label("likes")},
	{regexp.MustCompile(`\bi (?:hate|dislike|can't stand) ([^.,!?\n]+)`), label("dislikes")},
	{regexp.MustCompile(`\bi'm (?:working on|building|creating) ([^.,!?\n]+)`), label("current_project")},
	{regexp.MustCompile(`\bmy (?:favorite|favourite) ([^.,!?\n]+?) is ([^.,!?\n]+)`), func(m []string) string {
		key := strings.Join(strings.Fields(m[1]), "_")
		return "favorite_" + key + ": " + strings.TrimSpace(m[2])
	}},
	{regexp.MustCompile(`\bi (?:usually|always|often) ([^.,!?\n]+)`), label("habit")},
}

var definitionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`([^.,!?\n]+?) is an? ([^.,!?\n]+)`),
	regexp.MustCompile(`([^.,!?\n]+?) means ([^.,!?\n]+)`),
	regexp.MustCompile(`(?:define|what is|what's) ([^.,!?\n]+)\?`),
}

var techKeywords = []string{
	"python", "javascript", "golang", "api", "database", "server", "function",
	"class", "algorithm", "framework", "library",
}

var actionVerbs = regexp.MustCompile(`\b(create|make|build|search|find|move|copy|delete|run|execute|check|analyze|edit)\b`)

// UserFacts finds preferences, projects and habits the user states about
// themselves.
func UserFacts(message string) []Fact {
	lower := strings.ToLower(message)
	var facts []Fact
	for _, p := range userPatterns {
		for _, m := range p.re.FindAllStringSubmatch(lower, -1) {
			facts = append(facts, Fact{
				Type:       TypeUserPreference,
				Content:    p.format(m),
				Source:     sourceConversation,
				Confidence: 0.8,
			})
		}
	}
	return facts
}

// TechnicalFacts finds short definitions of technical terms in either side
// of the exchange.
func TechnicalFacts(user, reply string) []Fact {
	combined := strings.ToLower(user + ". " + reply)
	var facts []Fact
	for _, re := range definitionPatterns {
		for _, m := range re.FindAllStringSubmatch(combined, maxDefinitions) {
			parts := make([]string, 0, len(m)-1)
			for _, g := range m[1:] {
				parts = append(parts, strings.TrimSpace(g))
			}
			content := strings.Join(parts, ": ")
			if !mentionsTech(content) {
				continue
			}
			facts = append(facts, Fact{
				Type:       TypeTechnical,
				Content:    content,
				Source:     sourceConversation,
				Confidence: 0.7,
			})
		}
	}
	return facts
}

func mentionsTech(s string) bool {
	return slices.ContainsFunc(techKeywords, func(k string) bool { return strings.Contains(s, k) })
}

type taskPattern struct {
	IntentKeywords []string `json:"intent_keywords"`
	ToolsSequence  []string `json:"tools_sequence"`
	ExampleQuery   string   `json:"example_query"`
}

// TaskPattern links the action verbs in a request to the tools that served
// it. It returns false when the request has no recognised verb or no tool ran.
func TaskPattern(user string, toolsUsed []string) (Fact, bool) {
	if len(toolsUsed) == 0 {
		return Fact{}, false
	}
	var verbs []string
	for _, v := range actionVerbs.FindAllString(strings.ToLower(user), -1) {
		if !slices.Contains(verbs, v) {
			verbs = append(verbs, v)
		}
	}
	if len(verbs) == 0 {
		return Fact{}, false
	}
	example := user
	if r := []rune(example); len(r) > exampleRunes {
		example = string(r[:exampleRunes])
	}
	data, err := json.Marshal(taskPattern{IntentKeywords: verbs, ToolsSequence: toolsUsed, ExampleQuery: example})
	if err != nil {
		return Fact{}, false
	}
	return Fact{Type: TypeTaskPattern, Content: string(data), Source: sourceToolUsage, Confidence: 0.9}, true
}

// Extract returns every fact in one exchange, without duplicates.
func Extract(user, reply string, toolsUsed []string) []Fact {
	facts := append(UserFacts(user), TechnicalFacts(user, reply)...)
	if f, ok := TaskPattern(user, toolsUsed); ok {
		facts = append(facts, f)
	}
	seen := make(map[string]bool, len(facts))
	out := facts[:0]
	for _, f := range facts {
		key := f.Type + "\x00" + f.Content
		if !seen[key] {
			seen[key] = true
			out = append(out, f)
		}
	}
	return out
}

// Learn extracts facts from an exchange and stores them. It returns how many
// were new to the store.
func Learn(l Learner, user, reply string, toolsUsed []string) (int, error) {
	var (
		created int
		errs    []error
	)
	for _, f := range Extract(user, reply, toolsUsed) {
		isNew, err := l.LearnFact(f.Type, f.Content, f.Source, f.Confidence)
		if err != nil {
			errs = append(errs, fmt.Errorf("learn %s: %w", f.Type, err))
			continue
		}
		if isNew {
			created++
		}
	}
	return created, errors.Join(errs...)
}
