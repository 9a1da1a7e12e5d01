package external

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"safetyalert/internal/types"
)

// StubEmailProvider logs sends and returns a predictable message id. It lets
// the relay boot locally without mail credentials.
type StubEmailProvider struct {
	logger *slog.Logger
	seq    atomic.Int64
}

func NewStubEmailProvider(logger *slog.Logger) *StubEmailProvider {
	return &StubEmailProvider{logger: logger}
}

func (s *StubEmailProvider) Name() string { return "stub" }

func (s *StubEmailProvider) Send(ctx context.Context, input types.SendInput) (string, error) {
	n := s.seq.Add(1)
	s.logger.InfoContext(ctx, "stub: email send",
		"subject", input.Subject,
		"from", input.From.Address,
		"ref", input.ReferenceID,
	)
	return fmt.Sprintf("msg_stub_%d", n), nil
}

// StubPushProvider logs pushes and returns a predictable ticket id.
type StubPushProvider struct {
	logger *slog.Logger
	seq    atomic.Int64
}

func NewStubPushProvider(logger *slog.Logger) *StubPushProvider {
	return &StubPushProvider{logger: logger}
}

func (s *StubPushProvider) Name() string { return "stub" }

func (s *StubPushProvider) Send(ctx context.Context, msg types.PushMessage) (string, error) {
	n := s.seq.Add(1)
	s.logger.InfoContext(ctx, "stub: push send", "title", msg.Title)
	return fmt.Sprintf("ticket_stub_%d", n), nil
}

var (
	_ EmailProvider = (*StubEmailProvider)(nil)
	_ PushProvider  = (*StubPushProvider)(nil)
)
