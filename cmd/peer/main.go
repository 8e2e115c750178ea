// Command peer is a demo client that opens a WebRTC data channel to another
// peer using the signaling relay.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rendezvous/pkg/client"
	"rendezvous/pkg/logger"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type globalOptions struct {
	url       string
	name      string
	stun      []string
	heartbeat time.Duration
	logLevel  string
}

func main() {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "peer",
		Short: "Demo peer for the rendezvous signaling relay",
		Long: `peer connects to a signaling relay, registers a display name and
negotiates a WebRTC data channel with another peer through it.

Examples:
  peer users --url ws://localhost:5000/ws
  peer listen --name bob
  peer call --name alice --to bob --message "hello"`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.url, "url", "ws://localhost:5000/ws", "Relay WebSocket endpoint")
	flags.StringVarP(&opts.name, "name", "n", "", "Display name to register")
	flags.StringSliceVar(&opts.stun, "stun", []string{"stun:stun.l.google.com:19302"}, "STUN server URLs")
	flags.DurationVar(&opts.heartbeat, "heartbeat", 4*time.Minute, "Heartbeat interval")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level")

	rootCmd.AddCommand(
		usersCmd(opts),
		listenCmd(opts),
		callCmd(opts),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func (o *globalOptions) logger() *zap.SugaredLogger {
	return logger.New(o.logLevel, "console").Sugar()
}

// connect dials the relay, registers when a name is set and starts the
// heartbeat loop.
func (o *globalOptions) connect(ctx context.Context, log *zap.SugaredLogger) (*client.Client, string, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	c, err := client.Dial(dialCtx, o.url, nil)
	if err != nil {
		return nil, "", err
	}
	id, err := c.ID(dialCtx)
	if err != nil {
		c.Close()
		return nil, "", fmt.Errorf("relay did not announce a connection id: %w", err)
	}

	if o.name != "" {
		if err := c.Register(o.name); err != nil {
			c.Close()
			return nil, "", fmt.Errorf("failed to register: %w", err)
		}
	}
	go c.KeepAlive(ctx, o.heartbeat)

	log.Infow("connected to relay", "url", o.url, "connection_id", id, "name", o.name)
	return c, id, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func usersCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "users",
		Short: "Print the registered users and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			log := opts.logger()
			c, _, err := opts.connect(ctx, log)
			if err != nil {
				return err
			}
			defer c.Close()

			users, err := waitForUsers(ctx, c, func([]client.User) bool { return true })
			if err != nil {
				return err
			}
			for _, u := range users {
				fmt.Printf("%s\t%s\n", u.ConnectionID, u.DisplayName)
			}
			return nil
		},
	}
}

func listenCmd(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Accept calls and echo data channel messages",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()

			log := opts.logger()
			c, _, err := opts.connect(ctx, log)
			if err != nil {
				return err
			}
			defer c.Close()

			n := newNegotiator(c, opts.stun, log)
			defer n.Close()
			n.OnMessage = func(from, text string) string {
				log.Infow("received message", "from", from, "text", text)
				return "echo: " + text
			}
			return n.Run(ctx)
		},
	}
}

func callCmd(opts *globalOptions) *cobra.Command {
	var (
		to      string
		message string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "call",
		Short: "Open a data channel to a registered user and send one message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if to == "" {
				return fmt.Errorf("--to is required")
			}

			ctx, cancel := signalContext()
			defer cancel()
			ctx, cancelTimeout := context.WithTimeout(ctx, timeout)
			defer cancelTimeout()

			log := opts.logger()
			c, selfID, err := opts.connect(ctx, log)
			if err != nil {
				return err
			}
			defer c.Close()

			users, err := waitForUsers(ctx, c, func(users []client.User) bool {
				_, ok := findUser(users, to, selfID)
				return ok
			})
			if err != nil {
				return fmt.Errorf("user %q never appeared: %w", to, err)
			}
			target, _ := findUser(users, to, selfID)

			n := newNegotiator(c, opts.stun, log)
			defer n.Close()

			reply, err := n.Call(ctx, target.ConnectionID, message)
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		},
	}

	cmd.Flags().StringVar(&to, "to", "", "Display name or connection id to call")
	cmd.Flags().StringVarP(&message, "message", "m", "hello", "Message to send")
	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "Give up after this long")
	return cmd
}

// waitForUsers returns the first users_updated list accepted by match.
func waitForUsers(ctx context.Context, c *client.Client, match func([]client.User) bool) ([]client.User, error) {
	for {
		select {
		case ev, ok := <-c.Events():
			if !ok {
				return nil, client.ErrClosed
			}
			if ev.Type != "users_updated" {
				continue
			}
			users, err := client.DecodeUsers(ev)
			if err != nil {
				return nil, err
			}
			if match(users) {
				return users, nil
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func findUser(users []client.User, nameOrID, selfID string) (client.User, bool) {
	for _, u := range users {
		if u.ConnectionID == selfID {
			continue
		}
		if u.ConnectionID == nameOrID || u.DisplayName == nameOrID {
			return u, true
		}
	}
	return client.User{}, false
}
