package gateway

import "biztreck.org/internal/obs"

// Notifier is the port through which the gateway signals the UI layer:
// toast-style messages, the login redirect, and cache invalidation.
type Notifier interface {
	// Success surfaces a user-facing confirmation.
	Success(message string)
	// Error surfaces a user-facing failure.
	Error(message string)
	// NavigateLogin asks the UI to route to the login entry point.
	NavigateLogin()
	// SessionCleared tells the UI to discard any cached application data.
	SessionCleared()
}

// NopNotifier discards every signal. Default when no notifier is injected.
type NopNotifier struct{}

func (NopNotifier) Success(string)  {}
func (NopNotifier) Error(string)    {}
func (NopNotifier) NavigateLogin()  {}
func (NopNotifier) SessionCleared() {}

// LogNotifier writes every signal to the structured log. Used by the CLI,
// which has no toast surface.
type LogNotifier struct{}

func (LogNotifier) Success(message string) {
	obs.LogEvent("notify.success", map[string]any{"message": message})
}

func (LogNotifier) Error(message string) {
	obs.LogEvent("notify.error", map[string]any{"message": message})
}

func (LogNotifier) NavigateLogin() {
	obs.LogEvent("notify.navigate", map[string]any{"target": "login"})
}

func (LogNotifier) SessionCleared() {
	obs.LogEvent("notify.session_cleared", nil)
}
