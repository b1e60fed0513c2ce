// Package action defines the closed action vocabulary and the dispatcher
// that executes ordered action lists on behalf of rules and scheduled tasks.
//
// Side effects are fully delegated to collaborator interfaces; the
// dispatcher's own job is sequencing, per-action delay handling, and
// normalizing results so rule and task firings log identically. A failing
// action never aborts its siblings and a collaborator timeout is an
// ordinary action error.
package action

import (
	"context"
	"fmt"
	"time"
)

// DeviceChannel sends a command to a single device. The transport behind
// it (MQTT, HTTP, a bench simulator) is a deployment concern.
type DeviceChannel interface {
	Send(ctx context.Context, target, command string, params map[string]any) (string, error)
}

// GroupManager applies a command to a device group, recursing into child
// groups as the implementation sees fit.
type GroupManager interface {
	ControlGroup(ctx context.Context, groupID, command string, params map[string]any) (string, error)
}

// SceneActivator activates a named scene.
type SceneActivator interface {
	Activate(ctx context.Context, sceneID string) (string, error)
}

// NotificationSender delivers a notification on a channel. Email, SMS,
// webhook and chat integrations are interchangeable implementations.
type NotificationSender interface {
	Send(ctx context.Context, channel string, recipients []string, title, message string, metadata map[string]any) error
}

// VariableSetter writes a shared working-memory variable.
type VariableSetter interface {
	Set(ctx context.Context, name string, value any) error
}

// RuleToggler enables or disables a rule by ID. Implemented by the rule
// registry; declared here to avoid an import cycle.
type RuleToggler interface {
	SetRuleEnabled(ctx context.Context, ruleID string, enabled bool) error
}

// ScriptRunner executes a named custom script.
type ScriptRunner interface {
	Run(ctx context.Context, script string, params map[string]any) (string, error)
}

// Logger is the minimal logging interface the dispatcher needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Warn(string, ...any)  {}

// Dispatcher executes actions against the configured collaborators.
//
// Thread Safety: Execute and ExecuteAll are safe for concurrent use; each
// call sequences only its own action list.
type Dispatcher struct {
	devices   DeviceChannel
	groups    GroupManager
	scenes    SceneActivator
	notifier  NotificationSender
	variables VariableSetter
	rules     RuleToggler
	scripts   ScriptRunner
	logger    Logger

	// sleep is swapped out in tests to avoid real waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// Deps holds the collaborators a Dispatcher delegates to. Any field may be
// nil; actions needing a missing collaborator fail with ErrNotConfigured.
type Deps struct {
	Devices   DeviceChannel
	Groups    GroupManager
	Scenes    SceneActivator
	Notifier  NotificationSender
	Variables VariableSetter
	Rules     RuleToggler
	Scripts   ScriptRunner
	Logger    Logger
}

// NewDispatcher creates a dispatcher with the given collaborators.
func NewDispatcher(deps Deps) *Dispatcher {
	logger := deps.Logger
	if logger == nil {
		logger = noopLogger{}
	}
	return &Dispatcher{
		devices:   deps.Devices,
		groups:    deps.Groups,
		scenes:    deps.Scenes,
		notifier:  deps.Notifier,
		variables: deps.Variables,
		rules:     deps.Rules,
		scripts:   deps.Scripts,
		logger:    logger,
		sleep:     sleepCtx,
	}
}

// SetRuleToggler wires the rule registry after construction. The registry
// depends on the dispatcher for firing, so this link is set up last.
func (d *Dispatcher) SetRuleToggler(rules RuleToggler) {
	d.rules = rules
}

// ExecuteAll runs actions strictly in list order and returns one Result
// per action. A failed action is recorded and execution continues with the
// next action; only context cancellation stops the sequence early, in
// which case the remaining actions are marked cancelled.
func (d *Dispatcher) ExecuteAll(ctx context.Context, actions []Action) []Result {
	results := make([]Result, 0, len(actions))
	for i, a := range actions {
		if err := ctx.Err(); err != nil {
			for _, rest := range actions[i:] {
				results = append(results, Result{
					ActionID: rest.ID,
					Type:     rest.Type,
					Target:   rest.Target,
					Error:    ErrCancelled.Error(),
				})
			}
			return results
		}
		results = append(results, d.Execute(ctx, a))
	}
	return results
}

// Execute runs a single action and normalizes its outcome.
func (d *Dispatcher) Execute(ctx context.Context, a Action) Result {
	started := time.Now()

	res := Result{ActionID: a.ID, Type: a.Type, Target: a.Target}

	// Per-action delay suspends only this execution path.
	if a.DelaySeconds > 0 {
		if err := d.sleep(ctx, time.Duration(a.DelaySeconds)*time.Second); err != nil {
			res.Error = ErrCancelled.Error()
			res.Duration = time.Since(started)
			return res
		}
	}

	outcome, err := d.dispatch(ctx, a)
	res.Result = outcome
	if err != nil {
		res.Error = err.Error()
		d.logger.Warn("action failed",
			"type", string(a.Type),
			"target", a.Target,
			"error", err,
		)
	} else {
		d.logger.Debug("action executed",
			"type", string(a.Type),
			"target", a.Target,
			"result", outcome,
		)
	}
	res.Duration = time.Since(started)
	return res
}

// dispatch routes the action to its collaborator. The switch is exhaustive
// over the Type constants; unknown values land in the default error.
func (d *Dispatcher) dispatch(ctx context.Context, a Action) (string, error) {
	switch a.Type {
	case TypeDeviceControl:
		if d.devices == nil {
			return "", fmt.Errorf("%w: device channel", ErrNotConfigured)
		}
		return d.devices.Send(ctx, a.Target, a.Command, a.Parameters)

	case TypeGroupControl:
		if d.groups == nil {
			return "", fmt.Errorf("%w: group manager", ErrNotConfigured)
		}
		return d.groups.ControlGroup(ctx, a.Target, a.Command, a.Parameters)

	case TypeSceneActivate:
		if d.scenes == nil {
			return "", fmt.Errorf("%w: scene activator", ErrNotConfigured)
		}
		return d.scenes.Activate(ctx, a.Target)

	case TypeNotification:
		if d.notifier == nil {
			return "", fmt.Errorf("%w: notification sender", ErrNotConfigured)
		}
		channel, recipients, title, message, metadata := notificationFields(a)
		if err := d.notifier.Send(ctx, channel, recipients, title, message, metadata); err != nil {
			return "", err
		}
		return "sent", nil

	case TypeDelay:
		// The per-action DelaySeconds was already slept before dispatch;
		// only an explicit parameters.seconds adds a wait here.
		seconds := delayFromParameters(a.Parameters)
		if seconds > 0 {
			if err := d.sleep(ctx, time.Duration(seconds)*time.Second); err != nil {
				return "", ErrCancelled
			}
		} else {
			seconds = a.DelaySeconds
		}
		return fmt.Sprintf("delayed %ds", seconds), nil

	case TypeVariableSet:
		if d.variables == nil {
			return "", fmt.Errorf("%w: variable store", ErrNotConfigured)
		}
		if err := d.variables.Set(ctx, a.Target, a.Parameters["value"]); err != nil {
			return "", err
		}
		return "set", nil

	case TypeRuleEnable:
		if d.rules == nil {
			return "", fmt.Errorf("%w: rule toggler", ErrNotConfigured)
		}
		if err := d.rules.SetRuleEnabled(ctx, a.Target, true); err != nil {
			return "", err
		}
		return "enabled", nil

	case TypeRuleDisable:
		if d.rules == nil {
			return "", fmt.Errorf("%w: rule toggler", ErrNotConfigured)
		}
		if err := d.rules.SetRuleEnabled(ctx, a.Target, false); err != nil {
			return "", err
		}
		return "disabled", nil

	case TypeCustomScript:
		if d.scripts == nil {
			return "", fmt.Errorf("%w: script runner", ErrNotConfigured)
		}
		script := a.Target
		if script == "" {
			script = a.Command
		}
		return d.scripts.Run(ctx, script, a.Parameters)

	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, a.Type)
	}
}

// notificationFields extracts notification parameters with defaults.
func notificationFields(a Action) (channel string, recipients []string, title, message string, metadata map[string]any) {
	channel = a.Target
	if channel == "" {
		channel = "default"
	}
	if v, ok := a.Parameters["recipients"].([]any); ok {
		for _, r := range v {
			if s, ok := r.(string); ok {
				recipients = append(recipients, s)
			}
		}
	}
	if v, ok := a.Parameters["recipients"].([]string); ok {
		recipients = v
	}
	title, _ = a.Parameters["title"].(string)
	message, _ = a.Parameters["message"].(string)
	if v, ok := a.Parameters["metadata"].(map[string]any); ok {
		metadata = v
	}
	return channel, recipients, title, message, metadata
}

// delayFromParameters reads a delay action's duration from its parameters.
func delayFromParameters(params map[string]any) int {
	switch v := params["seconds"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return 0
	}
}

// sleepCtx sleeps for d or until the context is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
