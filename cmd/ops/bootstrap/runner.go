package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Secret is one relay credential stored in SSM. EnvVar is the variable the
// relay reads; the relay finds the value through EnvVar + "_SSM_PARAM".
type Secret struct {
	EnvVar      string
	Key         string
	Description string
}

// Inventory lists every credential the relay can resolve from SSM.
var Inventory = []Secret{
	{EnvVar: "DATABASE_URL", Key: "database/url", Description: "PostgreSQL connection string (profiles and alerts)"},
	{EnvVar: "SMTP_PASSWORD", Key: "email/smtp_password", Description: "SMTP password or app password"},
	{EnvVar: "SENDGRID_API_KEY", Key: "email/sendgrid_api_key", Description: "SendGrid API key"},
	{EnvVar: "EXPO_ACCESS_TOKEN", Key: "push/expo_access_token", Description: "Expo push access token"},
}

// Prompter asks the operator for a secret value.
type Prompter interface {
	Secret(label string) (string, error)
}

// Runner seeds the inventory into SSM and prints the pointer variables the
// relay deployment needs.
type Runner struct {
	SSM       *SSMManager
	Prompt    Prompter
	Out       io.Writer
	Overwrite bool
	Logger    *slog.Logger
	// Lookup reads pre-supplied values, os.LookupEnv in production.
	Lookup func(string) (string, bool)
}

// Run walks the inventory. Existing parameters are kept unless Overwrite is
// set; blank answers skip the secret.
func (r *Runner) Run(ctx context.Context) error {
	lookup := r.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var pointers []string
	for _, s := range Inventory {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := r.SSM.SSMPath(s.Key)

		exists, err := r.SSM.ParameterExists(ctx, path)
		if err != nil {
			return err
		}
		if exists && !r.Overwrite {
			r.Logger.Info("parameter already set, skipping", "env_var", s.EnvVar, "path", path)
			pointers = append(pointers, s.EnvVar+"_SSM_PARAM="+path)
			continue
		}

		value, ok := lookup(s.EnvVar)
		if !ok || value == "" {
			value, err = r.Prompt.Secret(fmt.Sprintf("%s (%s, blank to skip)", s.EnvVar, s.Description))
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.EnvVar, err)
			}
		}
		value = strings.TrimSpace(value)
		if value == "" {
			r.Logger.Info("skipped", "env_var", s.EnvVar)
			continue
		}

		if err := r.SSM.PutSecret(ctx, path, value, exists); err != nil {
			return err
		}
		pointers = append(pointers, s.EnvVar+"_SSM_PARAM="+path)
	}

	if len(pointers) > 0 {
		fmt.Fprintln(r.Out, "# Add to the relay environment:")
		for _, p := range pointers {
			fmt.Fprintln(r.Out, p)
		}
	}
	return nil
}

// terminalPrompter hides input when stdin is a terminal and reads plain
// lines otherwise.
type terminalPrompter struct {
	in     *os.File
	out    io.Writer
	reader *bufio.Reader
}

func newTerminalPrompter(in *os.File, out io.Writer) *terminalPrompter {
	return &terminalPrompter{in: in, out: out, reader: bufio.NewReader(in)}
}

func (p *terminalPrompter) Secret(label string) (string, error) {
	fmt.Fprintf(p.out, "%s: ", label)
	if term.IsTerminal(int(p.in.Fd())) {
		b, err := term.ReadPassword(int(p.in.Fd()))
		fmt.Fprintln(p.out)
		return string(b), err
	}
	line, err := p.reader.ReadString('\n')
	if err != nil && err != io.EOF {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
