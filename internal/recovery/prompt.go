package recovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/chzyer/readline"
)

// ReadLineFunc reads one line of operator input after showing prompt.
type ReadLineFunc func(prompt string) (string, error)

// Prompt returns a Locator that asks the operator for the coordinator's
// host and port on the terminal.
func Prompt(stdin io.ReadCloser, stdout io.Writer) Locator {
	return func(ctx context.Context) (string, error) {
		rl, err := readline.NewEx(&readline.Config{
			Stdin:           stdin,
			Stdout:          stdout,
			InterruptPrompt: "^C",
			EOFPrompt:       "^D",
		})
		if err != nil {
			return "", err
		}
		defer rl.Close()

		return AskCoordinator(ctx, func(prompt string) (string, error) {
			rl.SetPrompt(prompt)
			return rl.Readline()
		})
	}
}

// AskCoordinator asks for a host and a port until both are valid.
func AskCoordinator(ctx context.Context, readLine ReadLineFunc) (string, error) {
	host, err := ask(ctx, readLine, "coordinator host: ", func(s string) error {
		if s == "" {
			return errors.New("host is required")
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	port, err := ask(ctx, readLine, "coordinator port: ", func(s string) error {
		p, err := strconv.Atoi(s)
		if err != nil || p <= 0 || p > 65535 {
			return fmt.Errorf("invalid port %q", s)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return net.JoinHostPort(host, port), nil
}

func ask(ctx context.Context, readLine ReadLineFunc, prompt string, validate func(string) error) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		line, err := readLine(prompt)
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				return "", errors.New("interrupted")
			}
			return "", err
		}
		line = strings.TrimSpace(line)
		if err := validate(line); err != nil {
			prompt = err.Error() + ", try again: "
			continue
		}
		return line, nil
	}
}
