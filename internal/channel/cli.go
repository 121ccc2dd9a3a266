package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"relaybot/internal/domain"
)

const (
	cliChatID = "direct"
	cliUserID = "user"
	cliBotID  = "bot"
)

// CLI implements domain.Channel for an interactive terminal chat. The session
// opens with a synthetic join of the local user.
type CLI struct {
	bus     domain.TurnBus
	logger  *slog.Logger
	in      io.Reader
	out     io.Writer
	botName string
	mu      sync.Mutex
}

type CLIConfig struct {
	BotName string
	Logger  *slog.Logger
	In      io.Reader
	Out     io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.BotName == "" {
		cfg.BotName = cliBotID
	}
	return &CLI{
		logger:  cfg.Logger,
		in:      cfg.In,
		out:     cfg.Out,
		botName: cfg.BotName,
	}
}

func (c *CLI) Name() string { return "cli" }

// Start runs the REPL until EOF, /quit, or ctx is cancelled.
func (c *CLI) Start(ctx context.Context, bus domain.TurnBus) error {
	c.bus = bus
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	bus.OnOutbound(c.Name(), func(ctx context.Context, msg domain.OutboundMessage) error {
		c.mu.Lock()
		defer c.mu.Unlock()
		_, err := fmt.Fprintf(c.out, "\n%s> %s\nYou> ", c.botName, msg.Content)
		return err
	})

	c.printf("Type your message and press Enter. Type /quit to exit.\n")
	bus.Publish(newMembersTurn(c.Name(), cliChatID, cliBotID, domain.Member{ID: cliUserID}))
	c.printf("You> ")

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case raw, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			line := strings.TrimSpace(raw)
			if line == "" {
				c.printf("You> ")
				continue
			}
			if line == "/quit" || line == "/exit" || line == "/q" {
				c.logger.Info("user requested quit")
				return nil
			}
			bus.Publish(newMessageTurn(c.Name(), cliChatID, cliUserID, cliBotID, line))
		}
	}
}

// Stop is a no-op; the CLI exits when Start returns.
func (c *CLI) Stop() error { return nil }

func (c *CLI) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _ = fmt.Fprintf(c.out, format, args...)
}
