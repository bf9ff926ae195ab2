// Package classify derives a deterministic task classification from a raw
// command string. Classification drives timeout prediction only; it never
// affects what gets executed.
package classify

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/zeebo/blake3"
)

// Complexity tiers, ordered from cheapest to most expensive.
const (
	ComplexityTrivial = "trivial"
	ComplexityLow     = "low"
	ComplexitySimple  = "simple"
	ComplexityMedium  = "medium"
	ComplexityHigh    = "high"
	ComplexityComplex = "complex"
	ComplexityExtreme = "extreme"
)

// Tiers lists every known complexity tier.
var Tiers = []string{
	ComplexityTrivial, ComplexityLow, ComplexitySimple, ComplexityMedium,
	ComplexityHigh, ComplexityComplex, ComplexityExtreme,
}

// Classification is the (category, name, complexity, question_type) tuple
// derived from a command. Immutable value type.
type Classification struct {
	Category     string
	Name         string
	Complexity   string
	QuestionType string
}

// Key returns the coarse history key (category:name).
func (c Classification) Key() string {
	return c.Category + ":" + c.Name
}

// FineKey returns the fine-grained history key
// (category:name:complexity:question_type).
func (c Classification) FineKey() string {
	return c.Category + ":" + c.Name + ":" + c.Complexity + ":" + c.QuestionType
}

// General reports whether the command could not be classified beyond the
// catch-all category.
func (c Classification) General() bool {
	return c.Category == "general"
}

// rule is one ordered (predicate, result) pair. The first rule whose match
// returns ok wins.
type rule struct {
	name  string
	match func(cmd string) (Classification, bool)
}

// rules is evaluated in order. Inline metatags override everything, hash
// fallback is last and always matches.
var rules = []rule{
	{"metatags", matchMetatags},
	{"kv_store_cli", matchKVStoreCLI},
	{"ai_cli", matchAICLI},
	{"test_runner", matchTestRunner},
	{"shell_utility", matchShellUtility},
	{"hash_fallback", matchHashFallback},
}

// Classify maps a raw command string to its Classification. Pure and
// deterministic: same input, same output, no side effects.
func Classify(command string) Classification {
	for _, r := range rules {
		if c, ok := r.match(command); ok {
			return c
		}
	}
	// Unreachable: hash_fallback always matches.
	return Classification{Category: "general", Name: "unknown", Complexity: ComplexityMedium, QuestionType: "general"}
}

var metatagPattern = regexp.MustCompile(`\[(\w+):(\w+)\]`)

// matchMetatags honors explicit inline [key:value] tags embedded in the
// command, e.g. "[category:build] [task:release] [complexity:high]".
func matchMetatags(cmd string) (Classification, bool) {
	pairs := metatagPattern.FindAllStringSubmatch(cmd, -1)
	if len(pairs) == 0 {
		return Classification{}, false
	}
	tags := make(map[string]string, len(pairs))
	for _, p := range pairs {
		tags[p[1]] = p[2]
	}
	c := Classification{
		Category:     tags["category"],
		Name:         tags["task"],
		Complexity:   tags["complexity"],
		QuestionType: tags["type"],
	}
	if c.Category == "" {
		c.Category = "general"
	}
	if c.Name == "" {
		c.Name = "tagged"
	}
	if c.Complexity == "" {
		c.Complexity = ComplexityMedium
	}
	if c.QuestionType == "" {
		c.QuestionType = "general"
	}
	return c, true
}

// matchKVStoreCLI recognizes key-value-store CLI invocations and buckets them
// by verb class: point ops, scans, and full-text search.
func matchKVStoreCLI(cmd string) (Classification, bool) {
	if !strings.Contains(cmd, "redis-cli") {
		return Classification{}, false
	}
	upper := strings.ToUpper(cmd)
	switch {
	case strings.Contains(upper, "FT.SEARCH"):
		return Classification{Category: "kvstore", Name: "fulltext_search", Complexity: ComplexityComplex, QuestionType: "search"}, true
	case containsAny(upper, "SCAN", "KEYS", "ZRANGE"):
		return Classification{Category: "kvstore", Name: "scan_op", Complexity: ComplexityMedium, QuestionType: "search"}, true
	case containsAny(upper, "GET", "SET", "HGET", "HSET"):
		return Classification{Category: "kvstore", Name: "simple_op", Complexity: ComplexitySimple, QuestionType: "lookup"}, true
	default:
		return Classification{Category: "kvstore", Name: "other_op", Complexity: ComplexityMedium, QuestionType: "lookup"}, true
	}
}

var (
	countItemPattern = regexp.MustCompile(`(\d+)\s*\w*\s*(haiku|poem|joke|question|item|example)s?\b`)

	spelledNumbers = []struct {
		word string
		n    int
	}{
		{"hundred", 100}, {"ninety", 90}, {"eighty", 80}, {"seventy", 70},
		{"sixty", 60}, {"fifty", 50}, {"forty", 40}, {"thirty", 30},
		{"twenty", 20}, {"nineteen", 19}, {"eighteen", 18}, {"seventeen", 17},
		{"sixteen", 16}, {"fifteen", 15}, {"fourteen", 14}, {"thirteen", 13},
		{"twelve", 12}, {"eleven", 11}, {"ten", 10}, {"nine", 9},
		{"eight", 8}, {"seven", 7}, {"six", 6}, {"five", 5},
		{"four", 4}, {"three", 3}, {"two", 2}, {"one", 1},
	}
)

// aiIntents maps generative-AI CLI intent verbs to classifications, checked
// in declaration order.
var aiIntents = []struct {
	verb  string
	name  string
	tier  string
	qtype string
}{
	{"refactor", "refactor", ComplexityComplex, "code_refactor"},
	{"analyze", "analyze", ComplexityMedium, "code_analysis"},
	{"debug", "debug", ComplexityComplex, "debugging"},
	{"explain", "explain", ComplexityMedium, "explanation"},
	{"test", "testing", ComplexityMedium, "testing"},
	{"implement", "implement", ComplexityComplex, "implementation"},
	{"create", "implement", ComplexityComplex, "implementation"},
	{"generate", "generate", ComplexityMedium, "generation"},
}

// matchAICLI recognizes generative-AI CLI invocations (claude -p / --print)
// and buckets them by intent verb, with special counting for "produce N
// short items" prompts.
func matchAICLI(cmd string) (Classification, bool) {
	if !strings.Contains(cmd, "claude") {
		return Classification{}, false
	}
	if !strings.Contains(cmd, "--print") && !strings.Contains(cmd, "-p") {
		return Classification{}, false
	}
	lower := strings.ToLower(cmd)

	// Counted short-item generation: complexity scales with the count.
	if m := countItemPattern.FindStringSubmatch(lower); m != nil {
		count, _ := strconv.Atoi(m[1])
		return countedGeneration(m[2], count), true
	}
	for _, kind := range []string{"haiku", "poem", "joke"} {
		if !strings.Contains(lower, kind) {
			continue
		}
		count := 1
		for _, sn := range spelledNumbers {
			if strings.Contains(lower, sn.word) {
				count = sn.n
				break
			}
		}
		return countedGeneration(kind, count), true
	}

	for _, intent := range aiIntents {
		if strings.Contains(lower, intent.verb) {
			return Classification{Category: "ai", Name: intent.name, Complexity: intent.tier, QuestionType: intent.qtype}, true
		}
	}
	return Classification{Category: "ai", Name: "freeform", Complexity: ComplexityMedium, QuestionType: "general"}, true
}

func countedGeneration(kind string, count int) Classification {
	if count < 1 {
		count = 1
	}
	tier := ComplexitySimple
	switch {
	case count > 20:
		tier = ComplexityComplex
	case count > 5:
		tier = ComplexityMedium
	}
	return Classification{
		Category:     "ai",
		Name:         fmt.Sprintf("%s_%d", kind, count),
		Complexity:   tier,
		QuestionType: "creative_writing",
	}
}

// matchTestRunner recognizes interpreter-driven test runs.
func matchTestRunner(cmd string) (Classification, bool) {
	trimmed := strings.TrimSpace(cmd)
	isPython := strings.HasPrefix(trimmed, "python") || strings.HasPrefix(trimmed, "pytest")
	isGo := strings.HasPrefix(trimmed, "go test")
	if isGo || (isPython && (strings.Contains(trimmed, "test") || strings.Contains(trimmed, "pytest"))) {
		name := "pytest"
		if isGo {
			name = "gotest"
		}
		return Classification{Category: "testing", Name: name, Complexity: ComplexityMedium, QuestionType: "testing"}, true
	}
	return Classification{}, false
}

var (
	simpleUtilities = map[string]bool{"ls": true, "pwd": true, "echo": true, "cat": true, "true": true, "date": true}
	searchUtilities = map[string]bool{"grep": true, "find": true, "awk": true, "sed": true, "rg": true}
)

// matchShellUtility buckets plain OS utilities by their leading token.
func matchShellUtility(cmd string) (Classification, bool) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 {
		return Classification{}, false
	}
	switch {
	case simpleUtilities[fields[0]]:
		return Classification{Category: "system", Name: "simple_cmd", Complexity: ComplexitySimple, QuestionType: "filesystem"}, true
	case searchUtilities[fields[0]]:
		return Classification{Category: "system", Name: "search_cmd", Complexity: ComplexityMedium, QuestionType: "search"}, true
	}
	return Classification{}, false
}

// matchHashFallback names unclassified commands by content hash so repeated
// invocations of the same opaque command still accumulate shared history.
func matchHashFallback(cmd string) (Classification, bool) {
	sum := blake3.Sum256([]byte(cmd))
	return Classification{
		Category:     "general",
		Name:         fmt.Sprintf("%x", sum[:4]),
		Complexity:   ComplexityMedium,
		QuestionType: "general",
	}, true
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
