package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowjay/postgres-backup-s3/internal/config"
)

func TestWebhookPostsEvent(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := FromConfig(config.NotifyConfig{WebhookURL: srv.URL})
	require.NotNil(t, n)

	err := n.Notify(context.Background(), Event{Type: "backup", Status: "failed", Database: "app", Stage: "pg_dump", ExitCode: 1})
	require.NoError(t, err)
	assert.Equal(t, "pg_dump", got.Stage)
	assert.Equal(t, 1, got.ExitCode)
}

func TestWebhookErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	err := Webhook{URL: srv.URL}.Notify(context.Background(), Event{Type: "restore"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFromConfigEmpty(t *testing.T) {
	assert.Nil(t, FromConfig(config.NotifyConfig{}))
}
