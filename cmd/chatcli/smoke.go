package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/spf13/cobra"

	"github.com/vovakirdan/taskchat/internal/proto"
)

type smokeOptions struct {
	from      int64
	to        int64
	fromToken string
	toToken   string
	text      string
	timeout   time.Duration
}

// newSmokeCmd checks a running broker end to end over raw WebSocket frames.
func newSmokeCmd(server *string) *cobra.Command {
	opts := &smokeOptions{}

	cmd := &cobra.Command{
		Use:   "smoke",
		Short: "Connect two users and verify a message is routed between them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), opts.timeout)
			defer cancel()

			rtt, err := smoke(ctx, wsURL(*server), opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "ok: #%d -> #%d delivered in %s\n", opts.from, opts.to, rtt)
			return nil
		},
	}

	f := cmd.Flags()
	f.Int64Var(&opts.from, "from", 9001, "sender user id")
	f.Int64Var(&opts.to, "to", 9002, "receiver user id")
	f.StringVar(&opts.fromToken, "from-token", "", "sender token when the broker requires one")
	f.StringVar(&opts.toToken, "to-token", "", "receiver token when the broker requires one")
	f.StringVar(&opts.text, "text", "hello from smoke test", "message text to send")
	f.DurationVar(&opts.timeout, "timeout", 5*time.Second, "total timeout for the run")
	return cmd
}

func smoke(ctx context.Context, url string, opts *smokeOptions) (time.Duration, error) {
	sender, err := smokeConnect(ctx, url, opts.from, "smoke-sender", opts.fromToken)
	if err != nil {
		return 0, fmt.Errorf("sender: %w", err)
	}
	defer sender.Close(websocket.StatusNormalClosure, "bye")

	receiver, err := smokeConnect(ctx, url, opts.to, "smoke-receiver", opts.toToken)
	if err != nil {
		return 0, fmt.Errorf("receiver: %w", err)
	}
	defer receiver.Close(websocket.StatusNormalClosure, "bye")

	start := time.Now()
	if err := wsjson.Write(ctx, sender, proto.NewChat(opts.from, "smoke-sender", opts.to, opts.text)); err != nil {
		return 0, fmt.Errorf("send: %w", err)
	}

	for {
		var env proto.Envelope
		if err := wsjson.Read(ctx, receiver, &env); err != nil {
			return 0, fmt.Errorf("read: %w", err)
		}
		if env.Type != proto.TypeChatMessage {
			continue
		}
		text, err := env.Text()
		if err != nil {
			return 0, fmt.Errorf("decode chat: %w", err)
		}
		if env.SenderID != opts.from || text != opts.text {
			return 0, fmt.Errorf("unexpected message from #%d: %q", env.SenderID, text)
		}
		return time.Since(start), nil
	}
}

func smokeConnect(ctx context.Context, url string, id int64, name, token string) (*websocket.Conn, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}

	connect := proto.NewConnect(proto.ConnectData{UserID: id, Username: name, Token: token})
	if err := wsjson.Write(ctx, conn, connect); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("connect: %w", err)
	}

	var ack proto.Envelope
	if err := wsjson.Read(ctx, conn, &ack); err != nil {
		_ = conn.CloseNow()
		return nil, fmt.Errorf("await ack: %w", err)
	}
	switch ack.Type {
	case proto.TypeConnectionAck:
		return conn, nil
	case proto.TypeError:
		_ = conn.CloseNow()
		return nil, ack.Err()
	}
	_ = conn.CloseNow()
	return nil, errors.New("unexpected reply to CONNECT: " + string(ack.Type))
}
