package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DoyleJ11/damas-client/pkg/types"
	"go.uber.org/zap"
)

// Fallback messages used when the server does not explain a failure.
const (
	msgState     = "could not fetch match state"
	msgMatch     = "could not load the match room"
	msgMove      = "invalid move"
	msgEndTurn   = "could not end the turn"
	msgPurchase  = "could not purchase the power"
	msgActivate  = "could not activate the power"
	msgSurrender = "could not surrender the match"
)

// Client talks to the authoritative game server. It never decides legality itself.
type Client struct {
	base   string
	http   *http.Client
	token  string
	logger *zap.Logger
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option { return func(c *Client) { c.http = hc } }

// WithToken sends "Authorization: Bearer <token>" on every request.
func WithToken(token string) Option { return func(c *Client) { c.token = token } }

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

// NewClient builds a client for baseURL, which already includes the API prefix
// (for example http://localhost:3000/api/v1).
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		base:   strings.TrimSuffix(baseURL, "/"),
		http:   &http.Client{Timeout: 10 * time.Second},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State fetches the match snapshot, scoped to seat when the caller holds one.
func (c *Client) State(ctx context.Context, matchID int64, seat types.Seat) (*types.Snapshot, error) {
	if matchID <= 0 {
		return nil, ErrInvalidMatchID
	}
	path := fmt.Sprintf("/matches/%d/state", matchID)
	if seat != types.Spectator {
		path += "?seat=" + url.QueryEscape(string(seat))
	}
	var snap types.Snapshot
	if err := c.do(ctx, "state", http.MethodGet, path, nil, &snap, msgState); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Match fetches the pre-game room view.
func (c *Client) Match(ctx context.Context, matchID int64) (*types.LobbyMatch, error) {
	if matchID <= 0 {
		return nil, ErrInvalidMatchID
	}
	var m types.LobbyMatch
	if err := c.do(ctx, "match", http.MethodGet, fmt.Sprintf("/matches/%d", matchID), nil, &m, msgMatch); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) Move(ctx context.Context, matchID int64, req types.MoveRequest) error {
	return c.post(ctx, "move", matchID, "move", req, msgMove)
}

func (c *Client) EndTurn(ctx context.Context, matchID int64, seat types.Seat) error {
	return c.post(ctx, "end-turn", matchID, "end-turn", types.EndTurnRequest{Seat: seat}, msgEndTurn)
}

func (c *Client) Purchase(ctx context.Context, matchID int64, req types.PurchaseRequest) error {
	return c.post(ctx, "purchase", matchID, "purchase", req, msgPurchase)
}

func (c *Client) ActivatePower(ctx context.Context, matchID int64, req types.ActivatePowerRequest) error {
	return c.post(ctx, "activate-power", matchID, "activate-power", req, msgActivate)
}

func (c *Client) Surrender(ctx context.Context, matchID int64, userID int64) error {
	return c.post(ctx, "surrender", matchID, "surrender", types.SurrenderRequest{UserID: userID}, msgSurrender)
}

func (c *Client) post(ctx context.Context, op string, matchID int64, action string, body any, fallback string) error {
	if matchID <= 0 {
		return ErrInvalidMatchID
	}
	return c.do(ctx, op, http.MethodPost, fmt.Sprintf("/matches/%d/%s", matchID, action), body, nil, fallback)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (c *Client) do(ctx context.Context, op, method, path string, body, out any, fallback string) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		return c.fail(&FetchError{Op: op, Message: fallback, Err: err})
	}
	defer res.Body.Close()

	data, err := io.ReadAll(io.LimitReader(res.Body, 4<<20))
	if err != nil {
		return c.fail(&FetchError{Op: op, Status: res.StatusCode, Message: fallback, Err: err})
	}

	c.logger.Debug("engine request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", res.StatusCode),
		zap.Duration("took", time.Since(start)),
	)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return c.fail(&FetchError{Op: op, Status: res.StatusCode, Message: serverMessage(data, fallback)})
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return c.fail(&FetchError{Op: op, Status: res.StatusCode, Message: fallback, Err: err})
	}
	return nil
}

// fail logs fe and returns it. The capture-chain refusal is expected policy
// traffic and stays at debug level.
func (c *Client) fail(fe *FetchError) error {
	if fe.Message == MustContinueMessage {
		c.logger.Debug("engine request refused", zap.String("detail", fe.Detail()))
	} else {
		c.logger.Warn("engine request failed", zap.String("detail", fe.Detail()))
	}
	return fe
}

func serverMessage(data []byte, fallback string) string {
	var eb errorBody
	if err := json.Unmarshal(data, &eb); err != nil {
		return fallback
	}
	switch {
	case eb.Error != "":
		return eb.Error
	case eb.Message != "":
		return eb.Message
	default:
		return fallback
	}
}
