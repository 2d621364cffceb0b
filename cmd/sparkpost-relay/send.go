package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shineum/sparkpost-relay-lite/internal/headers"
	"github.com/shineum/sparkpost-relay-lite/internal/provider/stdout"
	"github.com/shineum/sparkpost-relay-lite/internal/sparkpost"
)

type sendOptions struct {
	to          string
	subject     string
	html        string
	htmlFile    string
	text        string
	headers     []string
	attachments []string
	dryRun      bool
}

func newSendCmd(root *rootOptions) *cobra.Command {
	opts := &sendOptions{}

	cmd := &cobra.Command{
		Use:   "send",
		Short: "Send one message through SparkPost",
		Example: `  sparkpost-relay send --to "a@example.com,b@example.com" --subject Hi \
    --html "<p>Hello</p>" --header "Cc: c@example.com" --attach report.pdf`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.load(cmd.ErrOrStderr())
			if err != nil {
				return err
			}

			msg, err := opts.message()
			if err != nil {
				return err
			}

			if opts.dryRun {
				return stdout.NewWithWriter(newBuilder(cfg), cmd.OutOrStdout()).Print(msg)
			}

			mailer, err := newMailer(cfg)
			if err != nil {
				return err
			}
			result, err := mailer.Send(cmd.Context(), msg)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "transmission %s accepted for %d recipient(s)\n", result.ID, result.TotalAccepted)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.to, "to", "", "comma-separated recipient addresses")
	f.StringVar(&opts.subject, "subject", "", "message subject")
	f.StringVar(&opts.html, "html", "", "HTML body")
	f.StringVar(&opts.htmlFile, "html-file", "", "read the HTML body from a file, - for stdin")
	f.StringVar(&opts.text, "text", "", "plain-text body")
	f.StringArrayVar(&opts.headers, "header", nil, `extra header line such as "Cc: a@example.com" (repeatable)`)
	f.StringArrayVar(&opts.attachments, "attach", nil, "file to attach (repeatable)")
	f.BoolVar(&opts.dryRun, "dry-run", false, "print the transmission instead of sending it")
	cmd.MarkFlagsMutuallyExclusive("html", "html-file")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func (o *sendOptions) message() (sparkpost.Message, error) {
	html := o.html
	if o.htmlFile != "" {
		body, err := readBody(o.htmlFile)
		if err != nil {
			return sparkpost.Message{}, err
		}
		html = body
	}

	attachments := make([]sparkpost.AttachmentSource, 0, len(o.attachments))
	for _, path := range o.attachments {
		attachments = append(attachments, sparkpost.AttachmentFile(path))
	}

	var hdrs headers.Input
	if len(o.headers) > 0 {
		hdrs = headers.Lines(o.headers)
	}

	return sparkpost.Message{
		To:          sparkpost.AddressList(o.to),
		Subject:     o.subject,
		HTML:        html,
		Text:        o.text,
		Headers:     hdrs,
		Attachments: attachments,
	}, nil
}

func readBody(path string) (string, error) {
	if path == "-" {
		body, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read HTML from stdin: %w", err)
		}
		return string(body), nil
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read HTML file: %w", err)
	}
	return string(body), nil
}
