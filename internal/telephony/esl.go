package telephony

import (
	"context"
	"fmt"
	"strings"
	"time"

	"ai-call-center/internal/calls"

	"github.com/0x19/goesl"
)

// ESLDialer originates through the FreeSWITCH event socket.
type ESLDialer struct {
	DialTimeout time.Duration
}

func (d *ESLDialer) Open(ctx context.Context, cred calls.Credential) (Session, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAuth, err)
	}

	client, err := goesl.NewClient(cred.Host, uint(cred.Port), cred.Secret, int(timeout.Seconds()))
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %v", ErrAuth, cred.Host, cred.Port, err)
	}
	go client.Handle()
	return &eslSession{conn: goeslConn{client}}, nil
}

type eslConn interface {
	bgapi(cmd string) error
	// replyText blocks for the next command reply.
	replyText() (string, error)
	close()
}

type goeslConn struct{ c *goesl.Client }

func (g goeslConn) bgapi(cmd string) error { return g.c.BgApi(cmd) }

func (g goeslConn) replyText() (string, error) {
	for {
		msg, err := g.c.ReadMessage()
		if err != nil {
			return "", err
		}
		if text, ok := msg.Headers["Reply-Text"]; ok {
			return text, nil
		}
	}
}

func (g goeslConn) close() {
	g.c.Exit()
	g.c.Close()
}

type eslSession struct {
	conn eslConn
}

func (s *eslSession) Originate(ctx context.Context, req OriginateRequest) (Ack, error) {
	if err := s.conn.bgapi(originateCommand(req)); err != nil {
		return Ack{}, classify(ctx, err, ErrOrigination)
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := s.conn.replyText()
		done <- result{text, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Ack{}, classify(ctx, r.err, ErrOrigination)
		}
		if !strings.HasPrefix(r.text, "+OK") {
			return Ack{}, fmt.Errorf("%w: %s", ErrOrigination, r.text)
		}
		return Ack{ID: strings.TrimSpace(strings.TrimPrefix(r.text, "+OK Job-UUID:")), Message: r.text}, nil
	case <-ctx.Done():
		return Ack{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

func (s *eslSession) Close() error {
	s.conn.close()
	return nil
}

// originateCommand renders `originate {vars}<channel> <exten> XML <context>`.
// Priority has no FreeSWITCH equivalent and is dropped.
func originateCommand(req OriginateRequest) string {
	vars := []string{
		"origination_caller_id_name='" + eslQuote(req.CallerID) + "'",
		fmt.Sprintf("originate_timeout=%d", int(req.Timeout.Seconds())),
	}
	return fmt.Sprintf("originate {%s}%s %s XML %s",
		strings.Join(vars, ","), req.Channel, req.Extension, req.Context)
}

func eslQuote(v string) string {
	return strings.NewReplacer("'", "", ",", " ", "\n", " ", "\r", " ").Replace(v)
}
