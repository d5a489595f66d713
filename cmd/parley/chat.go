package main

import (
	"bufio"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"os/user"
	"strings"

	"github.com/spf13/cobra"

	"github.com/flemzord/parley/internal/assistant"
)

func chatCmd() *cobra.Command {
	var (
		name     string
		noStream bool
		imageDir string
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			// Logs would interleave with the conversation; keep warnings only.
			if cfg.Logging.Level == "info" || cfg.Logging.Level == "debug" {
				cfg.Logging.Level = "warn"
			}
			logger, err := newLogger(cfg, os.Stderr)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(contextOf(cmd), os.Interrupt)
			defer stop()

			rt, err := buildRuntime(ctx, cfg, logger, frontends{})
			if err != nil {
				return err
			}
			if err := rt.app.Start(ctx); err != nil {
				return err
			}
			defer rt.app.Stop() //nolint:errcheck // best-effort shutdown

			if name == "" {
				name = currentUser()
			}
			r := &repl{
				replier:  rt.assistant,
				in:       cmd.InOrStdin(),
				out:      cmd.OutOrStdout(),
				userID:   "cli:" + name,
				stream:   !noStream,
				imageDir: imageDir,
			}
			return r.run(ctx)
		},
	}
	cmd.Flags().StringVarP(&name, "user", "u", "", "Conversation name (default: current OS user)")
	cmd.Flags().BoolVar(&noStream, "no-stream", false, "Print answers in one piece")
	cmd.Flags().StringVar(&imageDir, "image-dir", ".", "Directory where /image writes pictures")
	return cmd
}

// chatReplier is the part of the assistant the REPL uses.
type chatReplier interface {
	Reply(ctx context.Context, req assistant.Request) (assistant.Response, error)
	ReplyStream(ctx context.Context, req assistant.Request, onFragment assistant.FragmentFunc) (assistant.Response, error)
	ClearCommand() string
}

// repl is the interactive terminal loop.
type repl struct {
	replier  chatReplier
	in       io.Reader
	out      io.Writer
	userID   string
	stream   bool
	imageDir string
}

const replHelp = `Commands:
  /clear           forget the conversation
  /image <prompt>  generate a picture
  /help            show this help
  /quit            leave
`

func (r *repl) run(ctx context.Context) error {
	fmt.Fprintf(r.out, "parley %s. Type /help for commands.\n", version)
	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)

	for {
		fmt.Fprint(r.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(r.out)
			return scanner.Err()
		}
		if err := ctx.Err(); err != nil {
			return nil
		}

		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == "/quit" || line == "/exit":
			return nil
		case line == "/help":
			fmt.Fprint(r.out, replHelp)
			continue
		case line == "/clear":
			line = r.replier.ClearCommand()
		case strings.HasPrefix(line, "/image"):
			prompt := strings.TrimSpace(strings.TrimPrefix(line, "/image"))
			if prompt == "" {
				fmt.Fprintln(r.out, "Usage: /image <description>")
				continue
			}
			if err := r.image(ctx, prompt); err != nil {
				return quiet(ctx, err)
			}
			continue
		}

		if err := r.text(ctx, line); err != nil {
			return quiet(ctx, err)
		}
	}
}

// quiet turns an interrupt into a clean exit.
func quiet(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// text answers one line. Provider failures are printed and the loop goes
// on; only cancellation ends it.
func (r *repl) text(ctx context.Context, query string) error {
	req := assistant.Request{Query: query, UserID: r.userID, Kind: assistant.KindText}

	var err error
	if r.stream {
		_, err = r.replier.ReplyStream(ctx, req, func(fragment string) error {
			_, werr := io.WriteString(r.out, fragment)
			return werr
		})
		fmt.Fprintln(r.out)
	} else {
		var resp assistant.Response
		resp, err = r.replier.Reply(ctx, req)
		if err == nil {
			fmt.Fprintln(r.out, resp.Text)
		}
	}
	return r.report(ctx, err)
}

func (r *repl) image(ctx context.Context, prompt string) error {
	resp, err := r.replier.Reply(ctx, assistant.Request{Query: prompt, UserID: r.userID, Kind: assistant.KindImageCreate})
	if err != nil {
		return r.report(ctx, err)
	}
	if resp.Image == "" {
		fmt.Fprintln(r.out, resp.Text)
		return nil
	}

	data, err := base64.StdEncoding.DecodeString(resp.Image)
	if err != nil {
		return r.report(ctx, fmt.Errorf("decoding image: %w", err))
	}
	f, err := os.CreateTemp(r.imageDir, "parley-*.png")
	if err != nil {
		return r.report(ctx, err)
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		return r.report(ctx, err)
	}
	if err := f.Close(); err != nil {
		return r.report(ctx, err)
	}
	fmt.Fprintf(r.out, "Image saved to %s\n", f.Name())
	return nil
}

// report prints a failed reply and lets the loop go on. Cancellation is
// returned so the loop ends.
func (r *repl) report(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Fprintf(r.out, "error: %v\n", err)
	return nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "local"
}

// contextOf returns the command context, or Background when run outside
// ExecuteContext.
func contextOf(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
