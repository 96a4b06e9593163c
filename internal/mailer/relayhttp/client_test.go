package relayhttp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tatolapchik-bit/price-protection-bot/internal/mailer"
	"github.com/tatolapchik-bit/price-protection-bot/internal/pipeline"
)

func TestSend(t *testing.T) {
	var got relayRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/send", r.URL.Path)
		require.Equal(t, "Bearer key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"message_id":"relay-1"}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "key", "claims@service.example.com")
	id, err := c.Send(context.Background(), mailer.Message{
		To:      "disputes@bank.example.com",
		Subject: "Claim",
		Body:    "body",
		Attachments: []mailer.Attachment{
			{Filename: "claim.html", MIMEType: "text/html", Content: []byte("<p>hi</p>")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, "relay-1", id)
	require.Equal(t, "claims@service.example.com", got.From)
	require.Len(t, got.Attachments, 1)
}

func TestSend_NotConfigured(t *testing.T) {
	c := New("", "", "")
	_, err := c.Send(context.Background(), mailer.Message{To: "x@y"})
	require.ErrorIs(t, err, pipeline.ErrConfigurationError)
}
