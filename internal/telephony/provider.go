// Package telephony opens short-lived control sessions against a PBX and originates calls.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ai-call-center/internal/calls"
)

var (
	ErrAuth        = errors.New("telephony: authentication failed")
	ErrOrigination = errors.New("telephony: origination rejected")
	ErrTimeout     = errors.New("telephony: request timed out")
	ErrProtocol    = errors.New("telephony: unsupported protocol")
)

// OriginateRequest asks the PBX to ring Channel and connect it to Extension in Context.
type OriginateRequest struct {
	Channel   string
	Context   string
	Extension string
	Priority  int
	CallerID  string
	// Timeout is how long the PBX lets the channel ring.
	Timeout time.Duration
}

// Ack means the PBX accepted the request. It says nothing about the call being answered.
type Ack struct {
	ID      string
	Message string
}

// Session is one authenticated control connection. Close always releases it.
type Session interface {
	Originate(ctx context.Context, req OriginateRequest) (Ack, error)
	Close() error
}

// Dialer opens sessions. Open fails with ErrAuth when the endpoint is
// unreachable or rejects the credential.
type Dialer interface {
	Open(ctx context.Context, cred calls.Credential) (Session, error)
}

// Mux routes Open to the dialer registered for the credential's protocol.
type Mux struct {
	dialers map[calls.Protocol]Dialer
}

func NewMux() *Mux { return &Mux{dialers: map[calls.Protocol]Dialer{}} }

func (m *Mux) Register(p calls.Protocol, d Dialer) *Mux {
	m.dialers[p] = d
	return m
}

func (m *Mux) Open(ctx context.Context, cred calls.Credential) (Session, error) {
	p := cred.Protocol
	if p == "" {
		p = calls.ProtocolAMI
	}
	d, ok := m.dialers[p]
	if !ok {
		return nil, fmt.Errorf("%w: %w %q", ErrAuth, ErrProtocol, p)
	}
	return d.Open(ctx, cred)
}
