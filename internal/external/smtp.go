package external

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net"
	"net/smtp"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"safetyalert/internal/types"
)

// SMTPClientConfig holds the relay's authenticated submission settings.
type SMTPClientConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Logger   *slog.Logger
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// SMTPClient implements EmailProvider over authenticated SMTP submission
// (STARTTLS on port 587 for Gmail).
type SMTPClient struct {
	addr     string
	host     string
	username string
	password string
	sendMail sendMailFunc
	now      func() time.Time
	logger   *slog.Logger
}

// NewSMTPClient creates an SMTPClient that sends with smtp.SendMail.
func NewSMTPClient(cfg SMTPClientConfig) *SMTPClient {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &SMTPClient{
		addr:     net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		host:     cfg.Host,
		username: cfg.Username,
		password: cfg.Password,
		sendMail: smtp.SendMail,
		now:      time.Now,
		logger:   logger,
	}
}

func (c *SMTPClient) Name() string { return "smtp" }

// Send builds a multipart/alternative message and submits it. The returned
// id is the Message-ID header the relay generated, without angle brackets.
// smtp.SendMail takes no context, so cancellation only takes effect before
// the dial or by abandoning the in-flight call.
func (c *SMTPClient) Send(ctx context.Context, input types.SendInput) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "smtp send cancelled", err)
	}

	msgID := uuid.NewString() + "@" + messageIDDomain(input.From.Address)
	raw, err := c.buildMessage(input, msgID)
	if err != nil {
		return "", types.NewAppError(types.ErrCodeInternalRender, "failed to build MIME message", err)
	}

	var auth smtp.Auth
	if c.username != "" {
		auth = smtp.PlainAuth("", c.username, c.password, c.host)
	}

	done := make(chan error, 1)
	go func() {
		done <- c.sendMail(c.addr, auth, input.From.Address, []string{input.To}, raw)
	}()

	select {
	case err = <-done:
	case <-ctx.Done():
		return "", types.NewAppError(types.ErrCodeUpstreamUnavailable, "smtp send timed out", ctx.Err())
	}
	if err != nil {
		return "", mapSMTPError(err)
	}
	return msgID, nil
}

func (c *SMTPClient) buildMessage(input types.SendInput, msgID string) ([]byte, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	h := []string{
		"From: " + formatAddress(input.From),
		"To: " + input.To,
		"Subject: " + mime.QEncoding.Encode("utf-8", input.Subject),
		"Date: " + c.now().UTC().Format(time.RFC1123Z),
		"Message-ID: <" + msgID + ">",
		"MIME-Version: 1.0",
		"Content-Type: multipart/alternative; boundary=" + mw.Boundary(),
	}
	if input.ReferenceID != "" {
		h = append(h, "X-Reference-Id: "+input.ReferenceID)
	}
	buf.WriteString(strings.Join(h, "\r\n") + "\r\n\r\n")

	parts := []struct{ ctype, body string }{
		{"text/plain; charset=utf-8", input.BodyText},
		{"text/html; charset=utf-8", input.BodyHTML},
	}
	for _, p := range parts {
		if p.body == "" {
			continue
		}
		w, err := mw.CreatePart(textproto.MIMEHeader{
			"Content-Type":              {p.ctype},
			"Content-Transfer-Encoding": {"quoted-printable"},
		})
		if err != nil {
			return nil, err
		}
		qp := quotedprintable.NewWriter(w)
		if _, err := qp.Write([]byte(p.body)); err != nil {
			return nil, err
		}
		if err := qp.Close(); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func messageIDDomain(from string) string {
	if _, domain, ok := strings.Cut(from, "@"); ok && domain != "" {
		return domain
	}
	return "safetyalert.local"
}

// mapSMTPError classifies a submission failure. 550-554 rejections of the
// recipient are permanent and reported as blocked.
func mapSMTPError(err error) error {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		switch {
		case tpErr.Code >= 550 && tpErr.Code <= 554:
			return types.NewAppError(types.ErrCodeEmailBlocked, fmt.Sprintf("smtp rejected recipient (%d)", tpErr.Code), err)
		case tpErr.Code == 421 || tpErr.Code == 450 || tpErr.Code == 451 || tpErr.Code == 452:
			return types.NewAppError(types.ErrCodeUpstreamRateLimited, fmt.Sprintf("smtp temporarily refused (%d)", tpErr.Code), err)
		}
	}
	return types.NewAppError(types.ErrCodeUpstreamEmailProvider, "smtp submission failed", err)
}

var _ EmailProvider = (*SMTPClient)(nil)
