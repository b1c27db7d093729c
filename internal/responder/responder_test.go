package responder

import (
	"context"
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dpaschal/meshcore-gateway/internal/delivery"
	"github.com/dpaschal/meshcore-gateway/internal/model"
)

type fakeStore struct {
	nodes map[uint32]*model.Node
}

func (s *fakeStore) GetNode(_ context.Context, num uint32) (*model.Node, bool, error) {
	n, ok := s.nodes[num]
	return n, ok, nil
}

func (s *fakeStore) ListActiveNodes(context.Context, int) ([]*model.Node, error) {
	out := make([]*model.Node, 0, len(s.nodes))
	for _, n := range s.nodes {
		out = append(out, n)
	}
	return out, nil
}

type fakeSender struct {
	sent []delivery.SendRequest
}

func (s *fakeSender) Enqueue(_ context.Context, req delivery.SendRequest) (uint32, error) {
	s.sent = append(s.sent, req)
	return 1, nil
}

func TestFirstMatchingTriggerWins(t *testing.T) {
	store := &fakeStore{nodes: map[uint32]*model.Node{
		0x10: {Num: 0x10, LongName: "Alice", ShortName: "AL"},
	}}
	sender := &fakeSender{}
	r := &Responder{
		Store:  store,
		Sender: sender,
		Triggers: []Trigger{
			{Name: "ping", Pattern: regexp.MustCompile(`(?i)^ping$`), Response: "pong from {LONG_NAME}", Dest: Destination{ReplyToDM: true}},
			{Name: "catchall", Pattern: regexp.MustCompile(`.*`), Response: "ignored"},
		},
	}

	msg := &model.Message{SourceNode: 0x10, Text: "ping"}
	require.NoError(t, r.OnTextMessage(context.Background(), msg))
	require.Len(t, sender.sent, 1)
	require.Equal(t, "pong from Alice", sender.sent[0].Text)
	require.True(t, sender.sent[0].IsDM)
	require.Equal(t, uint32(0x10), sender.sent[0].Destination)
}

func TestSuppressedDestinationSendsNothing(t *testing.T) {
	store := &fakeStore{nodes: map[uint32]*model.Node{}}
	sender := &fakeSender{}
	r := &Responder{
		Store:  store,
		Sender: sender,
		Triggers: []Trigger{
			{Name: "silent", Pattern: regexp.MustCompile(`hush`), Response: "should not send", Dest: Destination{Suppressed: true}},
		},
	}
	require.NoError(t, r.OnTextMessage(context.Background(), &model.Message{SourceNode: 1, Text: "hush now"}))
	require.Empty(t, sender.sent)
}

func TestNoTriggerMatchesIsANoop(t *testing.T) {
	store := &fakeStore{nodes: map[uint32]*model.Node{}}
	sender := &fakeSender{}
	r := &Responder{Store: store, Sender: sender}
	require.NoError(t, r.OnTextMessage(context.Background(), &model.Message{SourceNode: 1, Text: "anything"}))
	require.Empty(t, sender.sent)
}

func TestParseScriptOutputVariants(t *testing.T) {
	out, err := ParseScriptOutput([]byte(`{"response": "hi"}`))
	require.NoError(t, err)
	require.Equal(t, []string{"hi"}, out)

	out, err = ParseScriptOutput([]byte(`{"responses": ["a", "b"]}`))
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, out)

	out, err = ParseScriptOutput([]byte("not json"))
	require.NoError(t, err)
	require.Nil(t, out)

	out, err = ParseScriptOutput([]byte("  "))
	require.NoError(t, err)
	require.Nil(t, out)
}

func TestTriggerParamsExtractsNamedGroups(t *testing.T) {
	tr := Trigger{Pattern: regexp.MustCompile(`^set (?P<key>\w+) to (?P<value>\w+)$`)}
	params := tr.params("set brightness to high")
	require.Equal(t, "brightness", params["key"])
	require.Equal(t, "high", params["value"])
}
