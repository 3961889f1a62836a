// Package discord reads guild membership and role hierarchy from the Discord
// REST API with a bot token.
package discord

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/fernandezvara/whitelistkit"
)

// DefaultBaseURL is the Discord REST API v10 root.
const DefaultBaseURL = "https://discord.com/api/v10"

// pageSize is the largest page the list guild members endpoint accepts.
const pageSize = 1000

// Client implements whitelistkit.GuildSource.
type Client struct {
	baseURL   string
	token     string
	userAgent string
	http      *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL points the client at another API root, e.g. a test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = u }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.http = h }
}

// NewClient creates a client authenticated with a bot token.
func NewClient(token string, opts ...Option) *Client {
	c := &Client{
		baseURL:   DefaultBaseURL,
		token:     token,
		userAgent: "DiscordBot (whitelistkit, 1)",
		http:      &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type apiGuild struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type apiRole struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Position int    `json:"position"`
}

type apiMember struct {
	User *struct {
		ID         string `json:"id"`
		Username   string `json:"username"`
		GlobalName string `json:"global_name"`
	} `json:"user"`
	Nick  string   `json:"nick"`
	Roles []string `json:"roles"`
}

func (m apiMember) toMember() whitelistkit.Member {
	out := whitelistkit.Member{RoleIDs: m.Roles}
	if m.User != nil {
		out.UserID = m.User.ID
		out.Username = m.User.Username
		if m.User.GlobalName != "" {
			out.Username = m.User.GlobalName
		}
	}
	if m.Nick != "" {
		out.Username = m.Nick
	}
	return out
}

// statusError is a non-2xx API response.
type statusError struct {
	Status int
	Body   string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("discord api returned %d: %s", e.Status, e.Body)
}

// get performs one GET and decodes the JSON body into out. A 429 is retried
// once after the advertised delay.
func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	for attempt := 0; ; attempt++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Authorization", "Bot "+c.token)
		req.Header.Set("Accept", "application/json")

		res, err := c.http.Do(req)
		if err != nil {
			return err
		}
		body, err := io.ReadAll(io.LimitReader(res.Body, 8<<20))
		res.Body.Close()
		if err != nil {
			return err
		}

		if res.StatusCode == http.StatusTooManyRequests && attempt == 0 {
			wait := retryAfter(res.Header, body)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
			continue
		}
		if res.StatusCode < 200 || res.StatusCode > 299 {
			return &statusError{Status: res.StatusCode, Body: string(body)}
		}
		return json.Unmarshal(body, out)
	}
}

func retryAfter(h http.Header, body []byte) time.Duration {
	if v, err := strconv.ParseFloat(h.Get("Retry-After"), 64); err == nil && v > 0 {
		return time.Duration(v * float64(time.Second))
	}
	var payload struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.RetryAfter > 0 {
		return time.Duration(payload.RetryAfter * float64(time.Second))
	}
	return time.Second
}

// FetchGuild checks the guild is reachable and returns a handle to it.
func (c *Client) FetchGuild(ctx context.Context, guildID string) (whitelistkit.Guild, error) {
	var g apiGuild
	if err := c.get(ctx, "/guilds/"+url.PathEscape(guildID), nil, &g); err != nil {
		return nil, whitelistkit.NewError(whitelistkit.ErrGuildUnavailable, "guild "+guildID).WithCause(err)
	}
	return &Guild{client: c, id: g.ID, name: g.Name}, nil
}

// Guild is a fetched guild.
type Guild struct {
	client *Client
	id     string
	name   string
}

// ID returns the guild snowflake.
func (g *Guild) ID() string { return g.id }

// Name returns the guild name.
func (g *Guild) Name() string { return g.name }

// FetchMembers pages through every guild member. Requires the server
// members intent on the bot.
func (g *Guild) FetchMembers(ctx context.Context) ([]whitelistkit.Member, error) {
	var (
		out   []whitelistkit.Member
		after = "0"
	)
	for {
		var page []apiMember
		q := url.Values{"limit": {strconv.Itoa(pageSize)}, "after": {after}}
		if err := g.client.get(ctx, "/guilds/"+url.PathEscape(g.id)+"/members", q, &page); err != nil {
			return nil, whitelistkit.NewError(whitelistkit.ErrGuildUnavailable, "list members").WithCause(err)
		}
		for _, m := range page {
			member := m.toMember()
			if member.UserID == "" {
				continue
			}
			out = append(out, member)
			after = member.UserID
		}
		if len(page) < pageSize {
			return out, nil
		}
	}
}

// FetchMember returns one member or ErrMemberNotFound.
func (g *Guild) FetchMember(ctx context.Context, userID string) (*whitelistkit.Member, error) {
	var m apiMember
	err := g.client.get(ctx, "/guilds/"+url.PathEscape(g.id)+"/members/"+url.PathEscape(userID), nil, &m)
	if err != nil {
		if se, ok := err.(*statusError); ok && se.Status == http.StatusNotFound {
			return nil, whitelistkit.NewError(whitelistkit.ErrMemberNotFound, "").WithUser(userID)
		}
		return nil, whitelistkit.NewError(whitelistkit.ErrGuildUnavailable, "fetch member").WithUser(userID).WithCause(err)
	}
	member := m.toMember()
	return &member, nil
}

// RolePositions returns the hierarchy position of every role in the guild.
func (g *Guild) RolePositions(ctx context.Context) (map[string]int, error) {
	var roles []apiRole
	if err := g.client.get(ctx, "/guilds/"+url.PathEscape(g.id)+"/roles", nil, &roles); err != nil {
		return nil, whitelistkit.NewError(whitelistkit.ErrGuildUnavailable, "list roles").WithCause(err)
	}
	positions := make(map[string]int, len(roles))
	for _, r := range roles {
		positions[r.ID] = r.Position
	}
	return positions, nil
}

var (
	_ whitelistkit.GuildSource = (*Client)(nil)
	_ whitelistkit.Guild       = (*Guild)(nil)
)
