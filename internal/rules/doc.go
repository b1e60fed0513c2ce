// Package rules provides the rule engine for Hearth Core.
//
// A rule pairs a condition tree with an ordered action list. The engine
// re-evaluates every enabled rule on a fixed tick against the current
// device and sensor state, and fires rules whose tree holds and whose
// cooldown and daily-cap gates allow.
//
// # Key Types
//
//   - Rule: condition tree + ordered actions + gating configuration
//   - Registry: thread-safe in-memory cache wrapping Repository
//   - Engine: tick loop that evaluates and fires rules
//   - Execution: audit record of one firing
//
// # Gating
//
// A firing is skipped while the cooldown window since the last firing
// is still open, and once the per-day cap is reached. The daily counter
// resets automatically when the calendar day (UTC) changes.
//
// # Thread Safety
//
// Registry and Engine are safe for concurrent use from multiple
// goroutines. A rule never has two firings in flight at once; the
// actions inside a firing run strictly in order.
//
// # Usage
//
//	repo := rules.NewSQLiteRepository(db)
//	registry := rules.NewRegistry(repo)
//	registry.SetLogger(log)
//
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//
//	engine := rules.NewEngine(registry, evaluator, dispatcher, snapshot, hub, log)
//	go engine.Run(ctx)
package rules
