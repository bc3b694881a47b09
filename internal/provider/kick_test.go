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

func newTestKick(srv *httptest.Server) *Kick {
	k := NewKick("client-456")
	k.baseURL = srv.URL
	return k
}

func TestKickFetchFollowing_CandidateFallthrough(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/channels/following", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	mux.HandleFunc("/users/following", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":[
			{"channel":{"id":101,"name":"Alpha","profile_picture":"https://img/a.png","is_live":true}},
			{"id":"202","username":"bravo","livestream":{"id":9}},
			{"channel":{"slug":"charlie"}},
			{"unrelated":1},
			"not-an-object"
		]}`)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	got, err := newTestKick(srv).FetchFollowing(context.Background(), "tok")
	require.NoError(t, err)

	// Rows with no resolvable identity are dropped.
	require.Len(t, got, 3)

	// Nested channel shape with a numeric id.
	assert.Equal(t, "101", got[0].StreamerID)
	assert.Equal(t, "Alpha", got[0].Name)
	assert.Equal(t, streamers.PlatformKick, got[0].Provider)
	require.NotNil(t, got[0].Avatar)
	assert.Equal(t, "https://img/a.png", *got[0].Avatar)
	require.NotNil(t, got[0].IsLive)
	assert.True(t, *got[0].IsLive)

	// Flat shape: live is inferred from the livestream object.
	assert.Equal(t, "202", got[1].StreamerID)
	assert.Equal(t, "bravo", got[1].Name)
	assert.Nil(t, got[1].Avatar)
	require.NotNil(t, got[1].IsLive)
	assert.True(t, *got[1].IsLive)

	// Slug-only shape: the name serves as the id, live is unknown.
	assert.Equal(t, "charlie", got[2].StreamerID)
	assert.Equal(t, "charlie", got[2].Name)
	assert.Nil(t, got[2].IsLive)
}

func TestKickFetchFollowing_AllCandidatesFail(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := newTestKick(srv).FetchFollowing(context.Background(), "tok")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, int32(2), calls.Load())
}

func TestKickFetchFollowing_MissingToken(t *testing.T) {
	_, err := NewKick("client-456").FetchFollowing(context.Background(), "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMisconfigured)
}
