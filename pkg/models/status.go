package models

import (
	"fmt"
	"strings"
)

// Strategy selects how a run decides which entries are new
type Strategy string

const (
	StrategyUnset        Strategy = ""              // Zero value, resolved to the default by config validation
	StrategyFullRescan   Strategy = "full-rescan"   // Crawl the whole tree, compare against the global max
	StrategyShortCircuit Strategy = "short-circuit" // Check only the first top-level branch
)

// String implements fmt.Stringer for logging
func (s Strategy) String() string {
	if s == "" {
		return "unset"
	}
	return string(s)
}

// IsValid returns true if the strategy is a known operational value
func (s Strategy) IsValid() bool {
	switch s {
	case StrategyFullRescan, StrategyShortCircuit:
		return true
	}
	return false
}

// ParseStrategy accepts the canonical names plus underscore and camel-case spellings
func ParseStrategy(raw string) (Strategy, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	normalized = strings.ReplaceAll(normalized, "_", "-")
	switch normalized {
	case "full-rescan", "fullrescan", "full":
		return StrategyFullRescan, nil
	case "short-circuit", "shortcircuit", "short":
		return StrategyShortCircuit, nil
	}
	return StrategyUnset, fmt.Errorf("unknown strategy '%s' (want %s or %s)", raw, StrategyFullRescan, StrategyShortCircuit)
}

// OrderingCheck controls how the short-circuit strategy reacts to a root
// whose first node is not the most recently modified one
type OrderingCheck string

const (
	OrderingCheckUnset    OrderingCheck = ""
	OrderingCheckOff      OrderingCheck = "off"      // Trust document order
	OrderingCheckWarn     OrderingCheck = "warn"     // Log the anomaly and continue with the first node
	OrderingCheckFallback OrderingCheck = "fallback" // Evaluate every top-level branch against its own watermark
)

// IsValid returns true if the mode is a known operational value
func (o OrderingCheck) IsValid() bool {
	switch o {
	case OrderingCheckOff, OrderingCheckWarn, OrderingCheckFallback:
		return true
	}
	return false
}
