package telephony

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"

	"ai-call-center/internal/calls"

	"github.com/google/uuid"
)

const amiBannerPrefix = "Asterisk Call Manager"

// AMIDialer speaks the Asterisk Manager Interface over TCP.
type AMIDialer struct {
	DialTimeout time.Duration

	// Dial defaults to net.Dialer.DialContext.
	Dial func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (d *AMIDialer) Open(ctx context.Context, cred calls.Credential) (Session, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	dial := d.Dial
	if dial == nil {
		dial = (&net.Dialer{}).DialContext
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	addr := net.JoinHostPort(cred.Host, strconv.Itoa(cred.Port))
	conn, err := dial(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrAuth, addr, err)
	}

	s := &amiSession{conn: conn, tp: textproto.NewConn(conn)}
	if err := s.login(ctx, cred); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrAuth, addr, err)
	}
	return s, nil
}

type amiSession struct {
	conn net.Conn
	tp   *textproto.Conn

	// one action in flight at a time
	mu     sync.Mutex
	closed bool
}

func (s *amiSession) login(ctx context.Context, cred calls.Credential) error {
	stop := s.watch(ctx)
	defer stop()

	banner, err := s.tp.ReadLine()
	if err != nil {
		return fmt.Errorf("read banner: %w", err)
	}
	if !strings.HasPrefix(banner, amiBannerPrefix) {
		return fmt.Errorf("unexpected banner %q", banner)
	}

	resp, err := s.send("Login", []field{
		{"Username", cred.Username},
		{"Secret", cred.Secret},
		{"Events", "off"},
	})
	if err != nil {
		return err
	}
	if !success(resp) {
		return fmt.Errorf("login rejected: %s", resp.Get("Message"))
	}
	return nil
}

func (s *amiSession) Originate(ctx context.Context, req OriginateRequest) (Ack, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Ack{}, fmt.Errorf("%w: session closed", ErrOrigination)
	}

	stop := s.watch(ctx)
	defer stop()

	id, resp, err := s.sendWithID("Originate", []field{
		{"Channel", req.Channel},
		{"Context", req.Context},
		{"Exten", req.Extension},
		{"Priority", strconv.Itoa(req.Priority)},
		{"CallerID", req.CallerID},
		{"Timeout", strconv.FormatInt(req.Timeout.Milliseconds(), 10)},
		{"Async", "true"},
	})
	if err != nil {
		return Ack{}, classify(ctx, err, ErrOrigination)
	}
	if !success(resp) {
		return Ack{}, fmt.Errorf("%w: %s", ErrOrigination, resp.Get("Message"))
	}
	return Ack{ID: id, Message: resp.Get("Message")}, nil
}

// Close logs off best-effort and closes the connection.
func (s *amiSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	_ = s.conn.SetDeadline(time.Now().Add(2 * time.Second))
	_, _ = s.send("Logoff", nil)
	return s.conn.Close()
}

type field struct{ key, value string }

func (s *amiSession) send(action string, fields []field) (textproto.MIMEHeader, error) {
	_, resp, err := s.sendWithID(action, fields)
	return resp, err
}

func (s *amiSession) sendWithID(action string, fields []field) (string, textproto.MIMEHeader, error) {
	id := uuid.NewString()
	if err := s.tp.PrintfLine("Action: %s\r\nActionID: %s", action, id); err != nil {
		return id, nil, fmt.Errorf("write %s: %w", action, err)
	}
	for _, f := range fields {
		if err := s.tp.PrintfLine("%s: %s", f.key, headerValue(f.value)); err != nil {
			return id, nil, fmt.Errorf("write %s: %w", action, err)
		}
	}
	if err := s.tp.PrintfLine(""); err != nil {
		return id, nil, fmt.Errorf("write %s: %w", action, err)
	}

	// Skip events and replies to other actions until ours arrives.
	for {
		hdr, err := s.tp.ReadMIMEHeader()
		if err != nil {
			return id, nil, fmt.Errorf("read %s response: %w", action, err)
		}
		if hdr.Get("Response") != "" && hdr.Get("ActionID") == id {
			return id, hdr, nil
		}
	}
}

// watch applies ctx's deadline to the connection and interrupts blocked I/O on cancel.
func (s *amiSession) watch(ctx context.Context) (stop func()) {
	if dl, ok := ctx.Deadline(); ok {
		_ = s.conn.SetDeadline(dl)
	} else {
		_ = s.conn.SetDeadline(time.Time{})
	}
	cancelWatch := context.AfterFunc(ctx, func() {
		_ = s.conn.SetDeadline(time.Unix(1, 0))
	})
	return func() { cancelWatch() }
}

func success(hdr textproto.MIMEHeader) bool {
	return strings.EqualFold(hdr.Get("Response"), "Success")
}

// headerValue keeps caller-supplied values on a single AMI line.
func headerValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}

func classify(ctx context.Context, err, kind error) error {
	var ne net.Error
	if ctx.Err() != nil || (errors.As(err, &ne) && ne.Timeout()) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", kind, err)
}
