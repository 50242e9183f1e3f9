package telephony

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"ai-call-center/internal/calls"

	"github.com/CyCoreSystems/ari/v5"
	"github.com/CyCoreSystems/ari/v5/client/native"
)

// ARIDialer originates through the Asterisk REST Interface.
type ARIDialer struct {
	Application string
	DialTimeout time.Duration

	connect func(*native.Options) (ari.Client, error)
}

func NewARIDialer(application string, dialTimeout time.Duration) *ARIDialer {
	return &ARIDialer{Application: application, DialTimeout: dialTimeout, connect: native.Connect}
}

func (d *ARIDialer) Open(ctx context.Context, cred calls.Credential) (Session, error) {
	timeout := d.DialTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	hostport := net.JoinHostPort(cred.Host, strconv.Itoa(cred.Port))
	opts := &native.Options{
		Application:  d.Application,
		Username:     cred.Username,
		Password:     cred.Secret,
		URL:          fmt.Sprintf("http://%s/ari", hostport),
		WebsocketURL: fmt.Sprintf("ws://%s/ari/events", hostport),
	}

	type result struct {
		cl  ari.Client
		err error
	}
	done := make(chan result, 1)
	go func() {
		cl, err := d.connect(opts)
		done <- result{cl, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrAuth, hostport, r.err)
		}
		return &ariSession{channels: r.cl.Channel(), close: r.cl.Close}, nil
	case <-ctx.Done():
		// Release the client if the connect finishes after we gave up.
		go func() {
			if r := <-done; r.err == nil {
				r.cl.Close()
			}
		}()
		return nil, fmt.Errorf("%w: %s: %v", ErrAuth, hostport, ctx.Err())
	}
}

type ariOriginator interface {
	Originate(*ari.Key, ari.OriginateRequest) (*ari.ChannelHandle, error)
}

type ariSession struct {
	channels ariOriginator
	close    func()
}

func (s *ariSession) Originate(ctx context.Context, req OriginateRequest) (Ack, error) {
	type result struct {
		h   *ari.ChannelHandle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := s.channels.Originate(nil, ari.OriginateRequest{
			Endpoint:  req.Channel,
			Context:   req.Context,
			Extension: req.Extension,
			Priority:  int64(req.Priority),
			CallerID:  req.CallerID,
			Timeout:   int(req.Timeout.Seconds()),
		})
		done <- result{h, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return Ack{}, classify(ctx, r.err, ErrOrigination)
		}
		return Ack{ID: r.h.ID(), Message: "channel created"}, nil
	case <-ctx.Done():
		return Ack{}, fmt.Errorf("%w: %v", ErrTimeout, ctx.Err())
	}
}

func (s *ariSession) Close() error {
	s.close()
	return nil
}
