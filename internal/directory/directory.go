// Package directory wraps the external collaborators this service depends
// on: the user/contact service and the notification sink. The core only
// consumes these contracts; credential issuance and friend-request CRUD live
// behind them.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/Subhi2911/LilYapper-backend/internal/models"
)

var ErrUserNotFound = errors.New("user not found")

// Directory resolves user ids to display info and answers mutual-contact
// checks.
type Directory interface {
	Lookup(ctx context.Context, userID string) (models.UserRef, error)
	AreContacts(ctx context.Context, userID, otherID string) (bool, error)
}

// NotificationSink persists a notification for its recipient.
type NotificationSink interface {
	Save(ctx context.Context, n *models.Notification) error
}

// StoreSink persists notifications into a local store. The notifications
// table doubles as the sink when no external notification service is
// deployed.
type StoreSink struct {
	Store interface {
		InsertNotification(ctx context.Context, n *models.Notification) error
	}
}

func (s StoreSink) Save(ctx context.Context, n *models.Notification) error {
	return s.Store.InsertNotification(ctx, n)
}

// Client talks to the user service over HTTP with a hard request timeout.
type Client struct {
	baseURL string
	hc      *http.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		hc: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy:           http.ProxyFromEnvironment,
				MaxIdleConns:    100,
				IdleConnTimeout: 90 * time.Second,
			},
		},
	}
}

func (c *Client) Lookup(ctx context.Context, userID string) (models.UserRef, error) {
	var user models.UserRef
	status, err := c.getJSON(ctx, "/api/users/"+url.PathEscape(userID), &user)
	if err != nil {
		return models.UserRef{}, err
	}
	if status == http.StatusNotFound {
		return models.UserRef{}, ErrUserNotFound
	}
	if status != http.StatusOK {
		return models.UserRef{}, fmt.Errorf("directory: user lookup returned %d", status)
	}
	return user, nil
}

func (c *Client) AreContacts(ctx context.Context, userID, otherID string) (bool, error) {
	var body struct {
		Mutual bool `json:"mutual"`
	}
	q := url.Values{"user": {userID}, "other": {otherID}}
	status, err := c.getJSON(ctx, "/api/contacts/check?"+q.Encode(), &body)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("directory: contact check returned %d", status)
	}
	return body.Mutual, nil
}

func (c *Client) getJSON(ctx context.Context, path string, out any) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, err
		}
	}
	return resp.StatusCode, nil
}
