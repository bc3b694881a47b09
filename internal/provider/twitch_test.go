package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Eric-Lebedenko/kick-tg-rewards/internal/streamers"
)

func newTestTwitch(srv *httptest.Server) *Twitch {
	tw := NewTwitch("client-123")
	tw.baseURL = srv.URL
	return tw
}

func TestTwitchFetchFollowing(t *testing.T) {
	var avatarCalls, followedCalls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Query()["id"]) > 0 {
			avatarCalls.Add(1)
			fmt.Fprint(w, `{"data":[
				{"id":"1","profile_image_url":"https://img/one.png"},
				{"id":"2","profile_image_url":""},
				{"id":"3","profile_image_url":"https://img/three.png"}
			]}`)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"me-1"}]}`)
	})
	mux.HandleFunc("/channels/followed", func(w http.ResponseWriter, r *http.Request) {
		followedCalls.Add(1)
		q := r.URL.Query()
		assert.Equal(t, "me-1", q.Get("user_id"))
		assert.Equal(t, "100", q.Get("first"))

		if q.Get("after") == "" {
			fmt.Fprint(w, `{"data":[
				{"broadcaster_id":"1","broadcaster_name":"StreamerOne"},
				{"broadcaster_id":"2","broadcaster_login":"streamer_two"}
			],"pagination":{"cursor":"page-2"}}`)
			return
		}
		assert.Equal(t, "page-2", q.Get("after"))
		fmt.Fprint(w, `{"data":[
			{"broadcaster_id":"3","broadcaster_name":"Third"},
			{"broadcaster_name":"NoIdentifier"}
		],"pagination":{}}`)
	})
	mux.HandleFunc("/streams", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"user_id":"2"}]}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	tw := newTestTwitch(srv)
	got, err := tw.FetchFollowing(context.Background(), "tok")
	require.NoError(t, err)

	// The record with no broadcaster id is dropped.
	require.Len(t, got, 3)
	assert.Equal(t, int32(2), followedCalls.Load())

	assert.Equal(t, "1", got[0].StreamerID)
	assert.Equal(t, "StreamerOne", got[0].Name)
	assert.Equal(t, streamers.PlatformTwitch, got[0].Provider)
	require.NotNil(t, got[0].Avatar)
	assert.Equal(t, "https://img/one.png", *got[0].Avatar)
	require.NotNil(t, got[0].IsLive)
	assert.False(t, *got[0].IsLive)

	// Name falls back to the login, empty avatar stays absent.
	assert.Equal(t, "streamer_two", got[1].Name)
	assert.Nil(t, got[1].Avatar)
	require.NotNil(t, got[1].IsLive)
	assert.True(t, *got[1].IsLive)

	assert.Equal(t, "Third", got[2].Name)

	// A second fetch serves every avatar from the memoization cache.
	_, err = tw.FetchFollowing(context.Background(), "tok")
	require.NoError(t, err)
	assert.Equal(t, int32(1), avatarCalls.Load())
}

func TestTwitchFetchFollowing_SecondaryLookupsDegrade(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users", func(w http.ResponseWriter, r *http.Request) {
		if len(r.URL.Query()["id"]) > 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, `{"data":[{"id":"me-1"}]}`)
	})
	mux.HandleFunc("/channels/followed", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[{"broadcaster_id":"1","broadcaster_name":"StreamerOne"}],"pagination":{}}`)
	})
	mux.HandleFunc("/streams", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newTestTwitch(srv).FetchFollowing(context.Background(), "tok")
	require.NoError(t, err)

	// Failed secondary lookups leave the fields absent.
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Avatar)
	assert.Nil(t, got[0].IsLive)
}

func TestTwitchFetchFollowing_PrimaryFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestTwitch(srv).FetchFollowing(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTwitchFetchFollowing_MissingToken(t *testing.T) {
	_, err := NewTwitch("client-123").FetchFollowing(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMisconfigured)
}
