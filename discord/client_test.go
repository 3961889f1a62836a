package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/fernandezvara/whitelistkit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func member(id, username string, roles ...string) map[string]any {
	return map[string]any{
		"user":  map[string]any{"id": id, "username": username},
		"roles": roles,
	}
}

func newTestGuild(t *testing.T, mux *http.ServeMux) *Guild {
	t.Helper()
	mux.HandleFunc("GET /guilds/g1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bot secret", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]any{"id": "g1", "name": "Test Guild"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewClient("secret", WithBaseURL(srv.URL))
	g, err := c.FetchGuild(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "g1", g.ID())
	return g.(*Guild)
}

func TestFetchGuildUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Missing Access"}`, http.StatusForbidden)
	}))
	defer srv.Close()

	_, err := NewClient("secret", WithBaseURL(srv.URL)).FetchGuild(context.Background(), "g1")
	require.Error(t, err)
	assert.ErrorIs(t, err, whitelistkit.ErrGuildUnavailable)
}

func TestFetchMembersPaginates(t *testing.T) {
	mux := http.NewServeMux()
	var afters []string
	mux.HandleFunc("GET /guilds/g1/members", func(w http.ResponseWriter, r *http.Request) {
		after := r.URL.Query().Get("after")
		afters = append(afters, after)
		assert.Equal(t, "1000", r.URL.Query().Get("limit"))

		var page []map[string]any
		if after == "0" {
			for i := 1; i <= pageSize; i++ {
				page = append(page, member(strconv.Itoa(i), fmt.Sprintf("user%d", i), "r1"))
			}
		} else {
			page = append(page, member("1001", "last", "r2"))
		}
		_ = json.NewEncoder(w).Encode(page)
	})

	g := newTestGuild(t, mux)
	members, err := g.FetchMembers(context.Background())
	require.NoError(t, err)
	assert.Len(t, members, pageSize+1)
	assert.Equal(t, []string{"0", "1000"}, afters)
	assert.Equal(t, "1001", members[pageSize].UserID)
	assert.Equal(t, []string{"r2"}, members[pageSize].RoleIDs)
}

func TestFetchMemberPrefersNick(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /guilds/g1/members/42", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"user":  map[string]any{"id": "42", "username": "raw", "global_name": "Global"},
			"nick":  "Nick",
			"roles": []string{"r1", "r2"},
		})
	})

	g := newTestGuild(t, mux)
	m, err := g.FetchMember(context.Background(), "42")
	require.NoError(t, err)
	assert.Equal(t, "42", m.UserID)
	assert.Equal(t, "Nick", m.Username)
	assert.Equal(t, []string{"r1", "r2"}, m.RoleIDs)
}

func TestFetchMemberNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /guilds/g1/members/404", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"Unknown Member","code":10007}`, http.StatusNotFound)
	})

	g := newTestGuild(t, mux)
	_, err := g.FetchMember(context.Background(), "404")
	require.Error(t, err)
	assert.ErrorIs(t, err, whitelistkit.ErrMemberNotFound)
	assert.True(t, whitelistkit.IsNotFound(err))
}

func TestRolePositions(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /guilds/g1/roles", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]map[string]any{
			{"id": "r1", "name": "Admin", "position": 10},
			{"id": "r2", "name": "Member", "position": 2},
		})
	})

	g := newTestGuild(t, mux)
	positions, err := g.RolePositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"r1": 10, "r2": 2}, positions)
}

func TestRateLimitRetriedOnce(t *testing.T) {
	mux := http.NewServeMux()
	calls := 0
	mux.HandleFunc("GET /guilds/g1/roles", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Retry-After", "0.01")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "r1", "position": 1}})
	})

	g := newTestGuild(t, mux)
	positions, err := g.RolePositions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, 1, positions["r1"])
}
