package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/vovakirdan/taskchat/internal/chat"
	"github.com/vovakirdan/taskchat/internal/proto"
	"github.com/vovakirdan/taskchat/internal/session"
	"github.com/vovakirdan/taskchat/internal/store"
)

const historyLimit = 20

const helpText = `commands:
  /open <id>        open the conversation with a user and show history
  /close            leave the open conversation
  /admins           list admins and their presence
  /typing on|off    send a typing indicator to the open peer
  /reconnect        drop the connection and connect again
  /quit             disconnect and exit
anything else is sent to the open peer`

// connector is the part of *client.Client the console drives directly.
type connector interface {
	Connect(ctx context.Context, userID int64, username string, isAdmin bool) bool
	Disconnect()
}

// console renders chat events and executes typed commands.
type console struct {
	identity  session.Identity
	messenger *chat.Messenger
	conn      connector

	mu   sync.Mutex
	out  io.Writer
	peer int64
}

func newConsole(out io.Writer, identity session.Identity, conn connector) *console {
	return &console{out: out, identity: identity, conn: conn}
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *console) openPeer() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peer
}

// handlers returns the inbox callbacks rendering to the console.
func (c *console) handlers() chat.Handlers {
	return chat.Handlers{
		OnMessage: func(msg *store.Message) {
			c.printf("%s %s (#%d): %s", msg.SentAt.Local().Format("15:04:05"), msg.SenderName, msg.SenderID, msg.Body)
		},
		OnTyping: func(peerID int64, name string, typing bool) {
			if typing {
				c.printf("... %s is typing", name)
				return
			}
			c.printf("... %s stopped typing", name)
		},
		OnStatus: func(status chat.Status, err error) {
			if err != nil {
				c.printf("* %s: %v", status, err)
				return
			}
			c.printf("* %s", status)
		},
		OnBrokerError: func(perr *proto.Error) {
			c.printf("! broker: %s (%s)", perr.Msg, perr.Code)
		},
	}
}

// exec runs one input line. It returns false when the console should exit.
func (c *console) exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return true
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, line)
		return true
	}

	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch cmd {
	case "/quit", "/exit":
		return false
	case "/help":
		c.printf("%s", helpText)
	case "/open":
		id, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || id <= 0 {
			c.printf("usage: /open <user id>")
			return true
		}
		c.open(ctx, id)
	case "/close":
		c.messenger.Close()
		c.mu.Lock()
		c.peer = 0
		c.mu.Unlock()
	case "/admins":
		c.listAdmins(ctx)
	case "/typing":
		c.typing(ctx, arg)
	case "/reconnect":
		c.conn.Disconnect()
		if !c.conn.Connect(ctx, c.identity.CurrentUserID(), c.identity.CurrentUsername(), c.identity.IsAdmin()) {
			c.printf("reconnect failed")
		}
	default:
		c.printf("unknown command %s, try /help", cmd)
	}
	return true
}

func (c *console) send(ctx context.Context, text string) {
	peer := c.openPeer()
	if peer == 0 {
		c.printf("no conversation open, use /open <id>")
		return
	}
	if _, err := c.messenger.Send(ctx, peer, text); err != nil {
		c.printf("not delivered: %v", err)
	}
}

func (c *console) open(ctx context.Context, peer int64) {
	history, err := c.messenger.Open(ctx, peer, historyLimit)
	if err != nil {
		c.printf("open %d: %v", peer, err)
		return
	}
	c.mu.Lock()
	c.peer = peer
	c.mu.Unlock()

	c.printf("-- conversation with #%d --", peer)
	for _, m := range history {
		c.printf("%s %s: %s", m.SentAt.Local().Format("Jan 2 15:04"), m.SenderName, m.Body)
	}
}

func (c *console) listAdmins(ctx context.Context) {
	admins, err := c.messenger.Admins(ctx)
	if err != nil {
		c.printf("admins: %v", err)
		return
	}
	if len(admins) == 0 {
		c.printf("no admins available")
		return
	}
	for _, a := range admins {
		c.printf("  #%d %s", a.ID, a.Username)
	}
}

func (c *console) typing(ctx context.Context, arg string) {
	peer := c.openPeer()
	if peer == 0 {
		c.printf("no conversation open, use /open <id>")
		return
	}
	var on bool
	switch arg {
	case "on":
		on = true
	case "off":
	default:
		c.printf("usage: /typing on|off")
		return
	}
	if err := c.messenger.Typing(ctx, peer, on); err != nil {
		c.printf("typing: %v", err)
	}
}
