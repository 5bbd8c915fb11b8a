package guardclient_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turtacn/abuseguard/sdk/go/guardclient"
)

func TestCheck(t *testing.T) {
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "u1", r.Header.Get("X-User-Id"))
		assert.Equal(t, "198.51.100.2", r.Header.Get("X-Forwarded-For"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		switch r.URL.Path {
		case "/v1/guard/post_create":
			w.WriteHeader(http.StatusOK)
		case "/v1/guard/vote":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/v1/guard/nope":
			w.WriteHeader(http.StatusBadRequest)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := guardclient.New(srv.URL + "/")
	req := guardclient.Request{UserID: "u1", ClientIP: "198.51.100.2", ContentBody: "hi"}

	allowed, err := c.Check(context.Background(), "post_create", req)
	require.NoError(t, err)
	assert.True(t, allowed)
	assert.Equal(t, "hi", gotBody["contentBody"])
	assert.NotContains(t, gotBody, "pendingCount")

	allowed, err = c.Check(context.Background(), "vote", req)
	require.NoError(t, err)
	assert.False(t, allowed)

	allowed, err = c.Check(context.Background(), "nope", req)
	assert.ErrorIs(t, err, guardclient.ErrBadRequest)
	assert.False(t, allowed)

	allowed, err = c.Check(context.Background(), "boom", req)
	assert.ErrorIs(t, err, guardclient.ErrUnavailable)
	assert.True(t, allowed)
}

func TestCheck_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	allowed, err := guardclient.New(url).Check(context.Background(), "vote", guardclient.Request{})
	assert.ErrorIs(t, err, guardclient.ErrUnavailable)
	assert.True(t, allowed)

	allowed, err = guardclient.New(url, guardclient.WithFailClosed()).Check(context.Background(), "vote", guardclient.Request{})
	assert.ErrorIs(t, err, guardclient.ErrUnavailable)
	assert.False(t, allowed)
}
