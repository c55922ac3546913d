package client

import (
	"context"
	"net/url"
)

// Reference is a source cited by an answer.
type Reference struct {
	Title string `json:"title"`
	Path  string `json:"path"`
}

// Turn is one rendered turn of a chat session.
type Turn struct {
	ID           string      `json:"id"`
	Kind         string      `json:"kind"`
	Query        string      `json:"query"`
	Answer       string      `json:"answer,omitempty"`
	References   []Reference `json:"references,omitempty"`
	ErrorCode    string      `json:"error_code,omitempty"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Degraded     bool        `json:"degraded,omitempty"`
	Grounded     bool        `json:"grounded"`
	CreatedAt    string      `json:"created_at"`
}

// IsError reports whether the turn renders a failure.
func (t Turn) IsError() bool { return t.Kind == "error" }

// Session is a chat session and its history.
type Session struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	Turns      []Turn `json:"turns,omitempty"`
	LastActive string `json:"last_active,omitempty"`
}

func sessionPath(id string, parts ...string) string {
	p := "/v1/sessions/" + url.PathEscape(id)
	for _, part := range parts {
		p += "/" + part
	}
	return p
}

func (c *APIClient) CreateSession(ctx context.Context) (*Session, error) {
	resp, err := c.Post(ctx, "/v1/sessions", nil)
	if err != nil {
		return nil, err
	}
	var s Session
	if err := decodeData(resp, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *APIClient) GetSession(ctx context.Context, id string) (*Session, error) {
	resp, err := c.Get(ctx, sessionPath(id))
	if err != nil {
		return nil, err
	}
	var s Session
	if err := decodeData(resp, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *APIClient) DeleteSession(ctx context.Context, id string) error {
	_, err := c.Delete(ctx, sessionPath(id))
	return err
}

// SubmitTurn runs one turn. Failed turns come back as error turns, not
// errors; errors are reserved for rejected or cancelled submissions.
func (c *APIClient) SubmitTurn(ctx context.Context, id, query string) (*Turn, error) {
	resp, err := c.Post(ctx, sessionPath(id, "turns"), map[string]string{"query": query})
	if err != nil {
		return nil, err
	}
	var t Turn
	if err := decodeData(resp, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// CancelTurn abandons the in-flight turn of a session. It reports whether a
// turn was running.
func (c *APIClient) CancelTurn(ctx context.Context, id string) (bool, error) {
	resp, err := c.Post(ctx, sessionPath(id, "cancel"), nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Cancelled bool `json:"cancelled"`
	}
	if err := decodeData(resp, &out); err != nil {
		return false, err
	}
	return out.Cancelled, nil
}
