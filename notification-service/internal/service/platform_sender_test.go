package service

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"fairytale-server/shared/models"

	fcm "firebase.google.com/go/v4/messaging"
	"github.com/sideshow/apns2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeMulticast struct {
	batches [][]string
}

func (f *fakeMulticast) SendEachForMulticast(_ context.Context, m *fcm.MulticastMessage) (*fcm.BatchResponse, error) {
	f.batches = append(f.batches, m.Tokens)
	br := &fcm.BatchResponse{SuccessCount: len(m.Tokens)}
	for range m.Tokens {
		br.Responses = append(br.Responses, &fcm.SendResponse{Success: true})
	}
	return br, nil
}

func TestFCMSender_SplitsIntoBatches(t *testing.T) {
	client := &fakeMulticast{}
	sender := newFCMSender(client, zap.NewNop())

	tokens := make([]string, 1201)
	for i := range tokens {
		tokens[i] = "token"
	}
	invalid, err := sender.Send(context.Background(), tokens, models.PushNotification{Title: "t"}, nil)

	require.NoError(t, err)
	assert.Empty(t, invalid)
	require.Len(t, client.batches, 3)
	assert.Len(t, client.batches[0], 500)
	assert.Len(t, client.batches[2], 201)
	assert.Equal(t, models.PlatformAndroid, sender.Platform())
}

type fakePushClient struct {
	mu        sync.Mutex
	responses map[string]*apns2.Response
	topics    []string
}

func (f *fakePushClient) PushWithContext(_ apns2.Context, n *apns2.Notification) (*apns2.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topics = append(f.topics, n.Topic)
	if res, ok := f.responses[n.DeviceToken]; ok {
		return res, nil
	}
	return &apns2.Response{StatusCode: http.StatusOK, ApnsID: "id"}, nil
}

func TestApnsSender_CollectsInvalidTokens(t *testing.T) {
	client := &fakePushClient{responses: map[string]*apns2.Response{
		"gone":    {StatusCode: http.StatusGone, Reason: apns2.ReasonUnregistered},
		"garbage": {StatusCode: http.StatusBadRequest, Reason: apns2.ReasonBadDeviceToken},
	}}
	sender := newApnsSender(client, "com.example.fairytale", zap.NewNop())

	invalid, err := sender.Send(context.Background(), []string{"ok-1", "gone", "garbage", "ok-2"},
		models.PushNotification{Title: "Сказка готова", Body: "The Tea Dragon"},
		map[string]string{models.PushDataKeyStoryID: "123"})

	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"gone", "garbage"}, invalid)
	assert.Len(t, client.topics, 4)
	assert.Equal(t, "com.example.fairytale", client.topics[0])
}

func TestApnsSender_ReportsDeliveryFailures(t *testing.T) {
	client := &fakePushClient{responses: map[string]*apns2.Response{
		"throttled": {StatusCode: http.StatusTooManyRequests, Reason: apns2.ReasonTooManyRequests},
	}}
	sender := newApnsSender(client, "com.example.fairytale", zap.NewNop())

	invalid, err := sender.Send(context.Background(), []string{"throttled", "ok"}, models.PushNotification{}, nil)
	assert.Error(t, err)
	assert.Empty(t, invalid)
}
