package model

import "fmt"

// Strategy identifies how a candidate patch was prompted for.
type Strategy int

const (
	Basic Strategy = iota + 1
	RewardFramed
	PunishFramed
	ChainOfThought
	RetrievalAugmented
)

// StrategyEntry pairs a strategy with its 1-based position in selection
// prompts and its stable key.
type StrategyEntry struct {
	Ordinal  int
	Key      string
	Strategy Strategy
}

// Strategies is the one ordered table used both to list candidates in the
// selection prompt and to decode "Patch N" back to a key.
var Strategies = []StrategyEntry{
	{Ordinal: 1, Key: "basic", Strategy: Basic},
	{Ordinal: 2, Key: "reward", Strategy: RewardFramed},
	{Ordinal: 3, Key: "punish", Strategy: PunishFramed},
	{Ordinal: 4, Key: "chain_of_thought", Strategy: ChainOfThought},
	{Ordinal: 5, Key: "rag", Strategy: RetrievalAugmented},
}

// DefaultKey is used whenever a selection cannot be decoded.
const DefaultKey = "basic"

// Key returns the stable key for s, or "" for an unknown strategy.
func (s Strategy) Key() string {
	for _, e := range Strategies {
		if e.Strategy == s {
			return e.Key
		}
	}
	return ""
}

func (s Strategy) String() string {
	if k := s.Key(); k != "" {
		return k
	}
	return "unknown"
}

// MarshalText encodes s as its key so candidates read naturally in JSON.
func (s Strategy) MarshalText() ([]byte, error) {
	k := s.Key()
	if k == "" {
		return nil, fmt.Errorf("unknown strategy %d", int(s))
	}
	return []byte(k), nil
}

func (s *Strategy) UnmarshalText(b []byte) error {
	v, ok := StrategyForKey(string(b))
	if !ok {
		return fmt.Errorf("unknown strategy %q", b)
	}
	*s = v
	return nil
}

// StrategyForOrdinal maps a 1-based selection ordinal to its entry.
func StrategyForOrdinal(n int) (StrategyEntry, bool) {
	for _, e := range Strategies {
		if e.Ordinal == n {
			return e, true
		}
	}
	return StrategyEntry{}, false
}

// StrategyForKey looks up a strategy by key.
func StrategyForKey(key string) (Strategy, bool) {
	for _, e := range Strategies {
		if e.Key == key {
			return e.Strategy, true
		}
	}
	return 0, false
}

// CandidatePatch is the unmodified completion produced by one strategy.
type CandidatePatch struct {
	Strategy Strategy `json:"strategy"`
	RawText  string   `json:"raw_text"`
}

// CandidateSet holds exactly one candidate per strategy, in table order.
type CandidateSet []CandidatePatch

// Get returns the raw text for key.
func (cs CandidateSet) Get(key string) (string, bool) {
	for _, c := range cs {
		if c.Strategy.Key() == key {
			return c.RawText, true
		}
	}
	return "", false
}

// ByKey returns the set as a key -> raw text map.
func (cs CandidateSet) ByKey() map[string]string {
	out := make(map[string]string, len(cs))
	for _, c := range cs {
		out[c.Strategy.Key()] = c.RawText
	}
	return out
}

// SelectionResult is what the selector extracted from the comparison reply.
type SelectionResult struct {
	ChosenLabel string `json:"chosen_label"`
	ChosenText  string `json:"chosen_text"`
}
