package telephony

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/CyCoreSystems/ari/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeESL struct {
	sent   []string
	reply  string
	err    error
	block  bool
	closed bool
}

func (f *fakeESL) bgapi(cmd string) error {
	f.sent = append(f.sent, cmd)
	return nil
}

func (f *fakeESL) replyText() (string, error) {
	if f.block {
		select {}
	}
	return f.reply, f.err
}

func (f *fakeESL) close() { f.closed = true }

func TestOriginateCommand(t *testing.T) {
	got := originateCommand(OriginateRequest{
		Channel:   "sofia/internal/1011",
		Context:   "default",
		Extension: "1000",
		CallerID:  "AI, Inc's bot",
		Timeout:   30 * time.Second,
	})
	assert.Equal(t, "originate {origination_caller_id_name='AI  Incs bot',originate_timeout=30}sofia/internal/1011 1000 XML default", got)
}

func TestESLSession_Accepted(t *testing.T) {
	conn := &fakeESL{reply: "+OK Job-UUID: 7f4d"}
	s := &eslSession{conn: conn}

	ack, err := s.Originate(context.Background(), originateReq)
	require.NoError(t, err)
	assert.Equal(t, "7f4d", ack.ID)
	require.Len(t, conn.sent, 1)

	require.NoError(t, s.Close())
	assert.True(t, conn.closed)
}

func TestESLSession_Rejected(t *testing.T) {
	s := &eslSession{conn: &fakeESL{reply: "-ERR no reply"}}
	_, err := s.Originate(context.Background(), originateReq)
	assert.ErrorIs(t, err, ErrOrigination)

	s = &eslSession{conn: &fakeESL{err: errors.New("socket closed")}}
	_, err = s.Originate(context.Background(), originateReq)
	assert.ErrorIs(t, err, ErrOrigination)
}

func TestESLSession_Timeout(t *testing.T) {
	s := &eslSession{conn: &fakeESL{block: true}}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Originate(ctx, originateReq)
	assert.ErrorIs(t, err, ErrTimeout)
}

type fakeOriginator struct {
	got ari.OriginateRequest
	err error
}

func (f *fakeOriginator) Originate(_ *ari.Key, req ari.OriginateRequest) (*ari.ChannelHandle, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return ari.NewChannelHandle(ari.NewKey(ari.ChannelKey, "chan-1"), nil, nil), nil
}

func TestARISession_Originate(t *testing.T) {
	o := &fakeOriginator{}
	closed := false
	s := &ariSession{channels: o, close: func() { closed = true }}

	ack, err := s.Originate(context.Background(), originateReq)
	require.NoError(t, err)
	assert.Equal(t, "chan-1", ack.ID)
	assert.Equal(t, "SIP/1011", o.got.Endpoint)
	assert.Equal(t, int64(1), o.got.Priority)
	assert.Equal(t, 30, o.got.Timeout)

	require.NoError(t, s.Close())
	assert.True(t, closed)
}

func TestARISession_OriginateError(t *testing.T) {
	s := &ariSession{channels: &fakeOriginator{err: errors.New("400 Bad Request")}, close: func() {}}
	_, err := s.Originate(context.Background(), originateReq)
	assert.ErrorIs(t, err, ErrOrigination)
}
