package pubsub

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"cloud.google.com/go/pubsub"
	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name    string
	msgs    []*pubsub.Message
	err     error
	stopped bool
}

func (f *fakeSender) Send(_ context.Context, msg *pubsub.Message) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.msgs = append(f.msgs, msg)
	return f.name + "-id", nil
}

func (f *fakeSender) Stop() { f.stopped = true }

func TestPublishMarshalsPayloadAndCachesTopics(t *testing.T) {
	t.Parallel()

	opened := map[string]*fakeSender{}
	pub := newPublisher(func(name string) sender {
		s := &fakeSender{name: name}
		opened[name] = s
		return s
	}, map[string]string{"kind": "webpage-search"})

	id, err := pub.Publish(context.Background(), "records", map[string]string{"url": "http://a.com:80"})
	require.NoError(t, err)
	require.Equal(t, "records-id", id)
	_, err = pub.Publish(context.Background(), "records", map[string]string{"url": "http://b.com:80"})
	require.NoError(t, err)

	require.Len(t, opened, 1)
	msgs := opened["records"].msgs
	require.Len(t, msgs, 2)
	require.Equal(t, "webpage-search", msgs[0].Attributes["kind"])

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(msgs[1].Data, &decoded))
	require.Equal(t, "http://b.com:80", decoded["url"])

	require.NoError(t, pub.Close())
	require.True(t, opened["records"].stopped)
}

func TestPublishErrors(t *testing.T) {
	t.Parallel()

	pub := newPublisher(func(name string) sender {
		return &fakeSender{name: name, err: errors.New("unavailable")}
	}, nil)

	_, err := pub.Publish(context.Background(), "", "x")
	require.ErrorContains(t, err, "topic is required")

	_, err = pub.Publish(context.Background(), "t", func() {})
	require.ErrorContains(t, err, "marshal payload")

	_, err = pub.Publish(context.Background(), "t", "x")
	require.ErrorContains(t, err, "unavailable")
}

func TestDialRequiresProject(t *testing.T) {
	t.Parallel()
	_, err := Dial(context.Background(), "", nil)
	require.ErrorContains(t, err, "project id is required")
}
