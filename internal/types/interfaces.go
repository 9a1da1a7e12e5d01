package types

// Logger defines the structured logging interface used by domain packages.
// logging.Adapter bridges it to *slog.Logger.
type Logger interface {
	Info(msg string, args ...any)
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	With(args ...any) Logger
}
