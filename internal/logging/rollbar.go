package logging

import (
	"github.com/rollbar/rollbar-go"
)

// Rollbar reports warnings and errors to rollbar and echoes every entry to Std.
type Rollbar struct {
	std *Std
}

var _ Logger = (*Rollbar)(nil)

func NewRollbar(std *Std, token, env, serverHost string) *Rollbar {
	rollbar.SetToken(token)
	rollbar.SetEnvironment(env)
	rollbar.SetServerHost(serverHost)
	rollbar.SetEnabled(token != "")
	return &Rollbar{std: std}
}

func (l *Rollbar) Debug(msg string, kv ...interface{}) {
	l.std.Debug(msg, kv...)
}

func (l *Rollbar) Info(msg string, kv ...interface{}) {
	l.std.Info(msg, kv...)
}

func (l *Rollbar) Warn(msg string, kv ...interface{}) {
	l.report(rollbar.WARN, msg, kv)
	l.std.Warn(msg, kv...)
}

func (l *Rollbar) Error(msg string, kv ...interface{}) {
	l.report(rollbar.ERR, msg, kv)
	l.std.Error(msg, kv...)
}

func (l *Rollbar) report(level, msg string, kv []interface{}) {
	extras, err := fields(kv)
	if err != nil {
		rollbar.ErrorWithExtras(level, err, withMessage(extras, msg))
		return
	}
	rollbar.MessageWithExtras(level, msg, extras)
}

// Close flushes queued items.
func (l *Rollbar) Close() {
	rollbar.Wait()
}

func withMessage(extras map[string]interface{}, msg string) map[string]interface{} {
	extras["message"] = msg
	return extras
}
