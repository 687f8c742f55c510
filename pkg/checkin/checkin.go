// Package checkin is a client for the check-in service's HTTP and GraphQL
// API. Devices authenticate with an auth cookie obtained from a username and
// password login, then report badge taps with the check_in mutation.
package checkin

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBadCredentials = errors.New("invalid username or password")
	ErrNoAuthToken    = errors.New("no auth token set by server")
	ErrNoData         = errors.New("check-in api returned no data")
	ErrUnknownUser    = errors.New("invalid user id on badge")
	ErrNotConfirmed   = errors.New("user not accepted and confirmed")
	ErrInvalidUserID  = errors.New("badge user id is not a uuid")
)

// GraphQLError is the collected errors array of a GraphQL response.
type GraphQLError struct {
	Messages []string
}

func (e *GraphQLError) Error() string {
	return "graphql: " + strings.Join(e.Messages, "; ")
}

type Client struct {
	baseUrl   *url.URL
	http      *http.Client
	authToken string
}

func newClient(baseUrl string) (*Client, error) {
	u, err := url.Parse(baseUrl)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}

	return &Client{
		baseUrl: u,
		http: &http.Client{
			Timeout: 30 * time.Second,
		},
	}, nil
}

// Login authenticates with a username and password and captures the auth
// cookie for subsequent requests. The server hashes passwords with a high
// PBKDF2 iteration count, so expect this to take a few seconds.
func Login(baseUrl, username, password string) (*Client, error) {
	c, err := newClient(baseUrl)
	if err != nil {
		return nil, err
	}

	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	resp, err := c.http.PostForm(c.endpoint("/api/user/login"), form)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, ErrBadCredentials
	}

	for _, cookie := range resp.Cookies() {
		if cookie.Name == "auth" {
			c.authToken = cookie.Value
			return c, nil
		}
	}

	return nil, ErrNoAuthToken
}

// FromToken resumes a client from a previously obtained auth token without
// logging in again.
func FromToken(baseUrl, token string) (*Client, error) {
	c, err := newClient(baseUrl)
	if err != nil {
		return nil, err
	}
	c.authToken = token
	return c, nil
}

// AuthToken returns the token in use, so it can be persisted for FromToken.
func (c *Client) AuthToken() string {
	return c.authToken
}

func (c *Client) endpoint(path string) string {
	u := *c.baseUrl
	u.Path = path
	return u.String()
}

// User is the attendee a badge belongs to.
type User struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Accepted  bool   `json:"accepted"`
	Confirmed bool   `json:"confirmed"`
}

// TagResult is the per-tag outcome of a check-in mutation.
type TagResult struct {
	Tag struct {
		Name string `json:"name"`
	} `json:"tag"`
	Success     bool   `json:"checkin_success"`
	LastCheckin string `json:"last_successful_checkin,omitempty"`
}

// Result is the outcome of checking a user in or out of one tag.
type Result struct {
	Success bool
	User    User
	Tag     TagResult
}

const checkInMutation = `mutation ($id: ID!, $tag: String!, $checkin: Boolean!) {
	check_in(user: $id, tag: $tag, check_in: $checkin) {
		user {
			name
			email
			accepted
			confirmed
		}
		tags {
			tag {
				name
			}
			checkin_success
			last_successful_checkin
		}
	}
}`

const tagsQuery = `query ($only_current: Boolean!) {
	tags(only_current: $only_current) {
		name
	}
}`

type graphqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type graphqlResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// graphql posts one operation and decodes its data field into out.
func (c *Client) graphql(query string, variables map[string]any, out any) error {
	body, err := json.Marshal(graphqlRequest{
		Query:     query,
		Variables: variables,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequest(http.MethodPost, c.endpoint("/graphql"), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.AddCookie(&http.Cookie{Name: "auth", Value: c.authToken})

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	var envelope graphqlResponse
	err = json.NewDecoder(resp.Body).Decode(&envelope)
	if err != nil {
		return err
	}

	if len(envelope.Errors) > 0 {
		gqlErr := &GraphQLError{}
		for _, e := range envelope.Errors {
			gqlErr.Messages = append(gqlErr.Messages, e.Message)
		}
		return gqlErr
	}

	if envelope.Data == nil {
		return ErrNoData
	}

	return json.Unmarshal(envelope.Data, out)
}

// CheckIn checks a user into a tag.
func (c *Client) CheckIn(userId, tag string) (*Result, error) {
	return c.checkinAction(true, userId, tag)
}

// CheckOut reverses a check-in.
func (c *Client) CheckOut(userId, tag string) (*Result, error) {
	return c.checkinAction(false, userId, tag)
}

func (c *Client) checkinAction(checkIn bool, userId, tag string) (*Result, error) {
	// badge contents are attacker-controlled, validate before spending a
	// network round trip
	if _, err := uuid.Parse(userId); err != nil {
		return nil, ErrInvalidUserID
	}

	var data struct {
		CheckIn *struct {
			User User        `json:"user"`
			Tags []TagResult `json:"tags"`
		} `json:"check_in"`
	}

	err := c.graphql(checkInMutation, map[string]any{
		"id":      userId,
		"tag":     tag,
		"checkin": checkIn,
	}, &data)
	if err != nil {
		return nil, err
	}

	if data.CheckIn == nil {
		return nil, ErrUnknownUser
	}

	user := data.CheckIn.User
	if !user.Accepted || !user.Confirmed {
		return nil, ErrNotConfirmed
	}

	for _, tr := range data.CheckIn.Tags {
		if tr.Tag.Name == tag {
			return &Result{
				Success: tr.Success,
				User:    user,
				Tag:     tr,
			}, nil
		}
	}

	return nil, fmt.Errorf("tag %s missing from check-in response", tag)
}

// TagNames lists the tag names configured on the check-in instance,
// optionally only those currently active.
func (c *Client) TagNames(onlyCurrent bool) ([]string, error) {
	var data struct {
		Tags []struct {
			Name string `json:"name"`
		} `json:"tags"`
	}

	err := c.graphql(tagsQuery, map[string]any{
		"only_current": onlyCurrent,
	}, &data)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(data.Tags))
	for _, tag := range data.Tags {
		names = append(names, tag.Name)
	}
	return names, nil
}

// AddUser provisions a new account, for setting up additional scanner
// devices.
func (c *Client) AddUser(username, password string) error {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)
	return c.updateUser(http.MethodPut, form)
}

func (c *Client) DeleteUser(username string) error {
	form := url.Values{}
	form.Set("username", username)
	return c.updateUser(http.MethodDelete, form)
}

func (c *Client) updateUser(method string, form url.Values) error {
	req, err := http.NewRequest(method, c.endpoint("/api/user/update"),
		strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: "auth", Value: c.authToken})

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("account update unsuccessful: %s", resp.Status)
	}

	return nil
}
