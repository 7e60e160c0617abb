package delivery

import (
	"strings"

	"brand-diagnosis/internal/protocol"
)

// Outcome is the run state derived from one status response.
type Outcome int

const (
	OutcomeRunning Outcome = iota
	OutcomeComplete
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeComplete:
		return "complete"
	case OutcomeFailed:
		return "failed"
	default:
		return "running"
	}
}

// Resolution is the interpreted form of a StatusResponse.
type Resolution struct {
	Outcome  Outcome
	Partial  bool
	Progress int
	Stage    string
	// Rule names the precedence rule that decided the outcome.
	Rule string
}

type vocabulary int

const (
	vocabUnknown vocabulary = iota
	vocabDone
	vocabPartial
	vocabFailed
	vocabRunning
)

var statusWords = map[string]vocabulary{
	"completed":         vocabDone,
	"complete":          vocabDone,
	"finished":          vocabDone,
	"done":              vocabDone,
	"success":           vocabDone,
	"succeeded":         vocabDone,
	"partial_completed": vocabPartial,
	"partial":           vocabPartial,
	"failed":            vocabFailed,
	"failure":           vocabFailed,
	"error":             vocabFailed,
	"timeout":           vocabFailed,
	"cancelled":         vocabFailed,
	"canceled":          vocabFailed,
	"running":           vocabRunning,
	"pending":           vocabRunning,
	"queued":            vocabRunning,
	"processing":        vocabRunning,
	"in_progress":       vocabRunning,
}

func classifyWord(word string) vocabulary {
	key := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(word)), "-", "_")
	return statusWords[key]
}

type statusRule struct {
	name  string
	apply func(resp protocol.StatusResponse) (Resolution, bool)
}

// Precedence, highest first: stop flag, status vocabulary, stage keyword,
// progress heuristic.
var statusRules = []statusRule{
	{"stop", func(resp protocol.StatusResponse) (Resolution, bool) {
		if !resp.Stop {
			return Resolution{}, false
		}
		switch classifyWord(resp.Status) {
		case vocabDone:
			return Resolution{Outcome: OutcomeComplete}, true
		case vocabPartial:
			return Resolution{Outcome: OutcomeComplete, Partial: true}, true
		}
		if len(resp.Results) > 0 {
			return Resolution{Outcome: OutcomeComplete, Partial: true}, true
		}
		return Resolution{Outcome: OutcomeFailed}, true
	}},
	{"status", func(resp protocol.StatusResponse) (Resolution, bool) {
		return fromVocabulary(classifyWord(resp.Status), len(resp.Results) > 0)
	}},
	{"stage", func(resp protocol.StatusResponse) (Resolution, bool) {
		word := classifyWord(resp.Stage)
		if word == vocabRunning {
			return Resolution{}, false
		}
		return fromVocabulary(word, len(resp.Results) > 0)
	}},
	{"progress", func(resp protocol.StatusResponse) (Resolution, bool) {
		if resp.Progress >= 100 && len(resp.Results) > 0 {
			return Resolution{Outcome: OutcomeComplete}, true
		}
		return Resolution{}, false
	}},
}

func fromVocabulary(word vocabulary, hasResults bool) (Resolution, bool) {
	switch word {
	case vocabDone:
		return Resolution{Outcome: OutcomeComplete}, true
	case vocabPartial:
		return Resolution{Outcome: OutcomeComplete, Partial: true}, true
	case vocabFailed:
		if hasResults {
			return Resolution{Outcome: OutcomeComplete, Partial: true}, true
		}
		return Resolution{Outcome: OutcomeFailed}, true
	case vocabRunning:
		return Resolution{Outcome: OutcomeRunning}, true
	default:
		return Resolution{}, false
	}
}

// ResolveStatus interprets a status response through one ordered rule table.
func ResolveStatus(resp protocol.StatusResponse) Resolution {
	res := Resolution{Outcome: OutcomeRunning, Rule: "default"}
	for _, rule := range statusRules {
		if r, ok := rule.apply(resp); ok {
			res = r
			res.Rule = rule.name
			break
		}
	}
	res.Stage = resp.Stage
	res.Progress = resp.Progress
	if res.Outcome == OutcomeComplete {
		res.Progress = 100
	}
	return res
}
