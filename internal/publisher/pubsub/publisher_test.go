package pubsub

import (
	"context"
	"testing"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"cloud.google.com/go/pubsub/v2/pstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/JakeFAU/frontier-strategy/internal/frontier"
	"github.com/JakeFAU/frontier-strategy/internal/updates"
)

func fakeServer(t *testing.T) (*pstest.Server, []option.ClientOption) {
	t.Helper()
	srv := pstest.NewServer()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, []option.ClientOption{
		option.WithEndpoint(srv.Addr),
		option.WithoutAuthentication(),
		option.WithGRPCDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())),
	}
}

func createTopic(t *testing.T, opts []option.ClientOption, project, topic string) {
	t.Helper()
	ctx := context.Background()
	client, err := pubsub.NewClient(ctx, project, opts...)
	require.NoError(t, err)
	defer func() { _ = client.Close() }()
	_, err = client.TopicAdminClient.CreateTopic(ctx, &pubsubpb.Topic{
		Name: "projects/" + project + "/topics/" + topic,
	})
	require.NoError(t, err)
}

func TestPublisherPublishesOrderedMessages(t *testing.T) {
	srv, opts := fakeServer(t)
	createTopic(t, opts, "proj", "score-updates")

	pub, err := Dial(context.Background(), "proj", "score-updates", nil, opts...)
	require.NoError(t, err)

	stream, err := updates.NewStream(pub, updates.Config{Producer: "partition-3", InstanceID: "inst"}, nil)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, stream.Push(ctx, frontier.ScoreDecision{URL: "https://a", Fingerprint: "fa", Score: 1}))
	require.NoError(t, stream.Push(ctx, frontier.ScoreDecision{URL: "https://b", Fingerprint: "fb", Score: 0.5}))
	require.NoError(t, stream.Close())

	msgs := srv.Messages()
	require.Len(t, msgs, 2)
	first, err := updates.Decode(msgs[0].Data)
	require.NoError(t, err)
	assert.Equal(t, "fa", first.Fingerprint)
	assert.Equal(t, "partition-3", msgs[0].OrderingKey)
	assert.Equal(t, "1", msgs[0].Attributes[updates.AttrSeq])
	assert.Equal(t, "2", msgs[1].Attributes[updates.AttrSeq])
	assert.Equal(t, "inst", msgs[1].Attributes[updates.AttrInstance])
}

func TestDialFailsForMissingTopic(t *testing.T) {
	_, opts := fakeServer(t)
	_, err := Dial(context.Background(), "proj", "missing", nil, opts...)
	require.Error(t, err)
}

func TestPublishWithoutPublisherIsPermanent(t *testing.T) {
	p := New(nil, nil)
	err := p.Publish(context.Background(), updates.Message{Key: "k"})
	require.Error(t, err)
	assert.True(t, updates.IsPermanent(err))
	require.NoError(t, p.Close())
}
