package taskquestsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal TaskQuest HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "/v1",
		Timeout:  10 * time.Second,
	}
}

type Profile struct {
	ID             string   `json:"id"`
	IdentityID     string   `json:"identity_id"`
	Nickname       string   `json:"nickname"`
	Balance        int64    `json:"balance"`
	SelectedItem   *string  `json:"selected_item,omitempty"`
	PurchasedItems []string `json:"purchased_items"`
	CreatedAt      string   `json:"created_at"`
	UpdatedAt      string   `json:"updated_at"`
}

type Challenge struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	CreatedBy   string  `json:"created_by"`
	Status      string  `json:"status"`
	CreatedAt   string  `json:"created_at"`
	CompletedAt *string `json:"completed_at,omitempty"`
}

type Task struct {
	ID            string  `json:"id"`
	ChallengeID   string  `json:"challenge_id"`
	Title         string  `json:"title"`
	Description   string  `json:"description,omitempty"`
	Status        string  `json:"status"`
	CreatedAt     string  `json:"created_at"`
	CompletedAt   *string `json:"completed_at,omitempty"`
	CompletedBy   string  `json:"completed_by,omitempty"`
	ProofImageID  *string `json:"proof_image_id,omitempty"`
	ProofImageURL string  `json:"proof_image_url,omitempty"`
}

// ChallengeWithTasks is returned when a challenge is created.
type ChallengeWithTasks struct {
	Challenge Challenge `json:"challenge"`
	Tasks     []Task    `json:"tasks"`
}

type NewTask struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

type NewChallenge struct {
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Tasks       []NewTask `json:"tasks,omitempty"`
}

type Completion struct {
	Completion struct {
		ID          string `json:"id"`
		TaskID      string `json:"task_id"`
		IdentityID  string `json:"identity_id"`
		CompletedAt string `json:"completed_at"`
	} `json:"completion"`
	ChallengeID        string `json:"challenge_id"`
	ChallengeCompleted bool   `json:"challenge_completed"`
	Credited           bool   `json:"credited"`
	Balance            *int64 `json:"balance,omitempty"`
}

type StoreItem struct {
	ID          string `json:"id"`
	ImageRef    string `json:"image_ref"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Price       int64  `json:"price"`
	Type        string `json:"type"`
}

type Purchase struct {
	Profile      Profile `json:"profile"`
	Charged      int64   `json:"charged"`
	AlreadyOwned bool    `json:"already_owned"`
}

type LeaderboardEntry struct {
	Rank         int     `json:"rank"`
	ProfileID    string  `json:"profile_id"`
	Nickname     string  `json:"nickname"`
	Balance      int64   `json:"balance"`
	SelectedItem *string `json:"selected_item,omitempty"`
}

type Upload struct {
	StorageHandle string `json:"storage_handle"`
	Size          int64  `json:"size"`
	URL           string `json:"url,omitempty"`
}

type ProofImage struct {
	ID            string `json:"id"`
	TaskID        string `json:"task_id"`
	StorageHandle string `json:"storage_handle"`
	Filename      string `json:"filename"`
	Description   string `json:"description,omitempty"`
	MimeType      string `json:"mime_type"`
	Size          int64  `json:"size"`
	UploadedBy    string `json:"uploaded_by"`
	CreatedAt     string `json:"created_at"`
	URL           string `json:"url,omitempty"`
}

// APIError wraps non-2xx responses. Code and Message come from the error
// envelope when the body carries one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsCode reports whether err is an APIError with the given code.
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// CreateProfile creates the caller's profile.
func (c *Client) CreateProfile(ctx context.Context, nickname string) (Profile, error) {
	var resp Profile
	err := c.do(ctx, http.MethodPost, "profiles", map[string]any{"nickname": nickname}, &resp)
	return resp, err
}

// Me returns the caller's profile, nil when none exists.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var resp struct {
		Profile *Profile `json:"profile"`
	}
	err := c.do(ctx, http.MethodGet, "profiles/me", nil, &resp)
	return resp.Profile, err
}

func (c *Client) CreateChallenge(ctx context.Context, in NewChallenge) (ChallengeWithTasks, error) {
	var resp ChallengeWithTasks
	err := c.do(ctx, http.MethodPost, "challenges", in, &resp)
	return resp, err
}

func (c *Client) Challenges(ctx context.Context) ([]Challenge, error) {
	var resp []Challenge
	err := c.do(ctx, http.MethodGet, "challenges", nil, &resp)
	return resp, err
}

// SearchChallenges ranks challenges by how many query words their title contains.
func (c *Client) SearchChallenges(ctx context.Context, q string, limit int) ([]Challenge, error) {
	params := url.Values{"q": {q}}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	var resp []Challenge
	err := c.do(ctx, http.MethodGet, "challenges/search?"+params.Encode(), nil, &resp)
	return resp, err
}

func (c *Client) AddTask(ctx context.Context, challengeID string, in NewTask) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("challenges/%s/tasks", url.PathEscape(challengeID)), in, &resp)
	return resp, err
}

// Tasks lists a challenge's tasks with completer and proof details.
func (c *Client) Tasks(ctx context.Context, challengeID string) ([]Task, error) {
	var resp []Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("challenges/%s/tasks", url.PathEscape(challengeID)), nil, &resp)
	return resp, err
}

func (c *Client) CompleteTask(ctx context.Context, taskID string) (Completion, error) {
	var resp Completion
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/complete", url.PathEscape(taskID)), nil, &resp)
	return resp, err
}

// UploadProof sends raw image bytes and returns the storage handle to attach.
func (c *Client) UploadProof(ctx context.Context, filename, contentType string, data []byte) (Upload, error) {
	var resp Upload
	endpoint := "uploads?" + url.Values{"filename": {filename}}.Encode()
	err := c.send(ctx, http.MethodPost, endpoint, contentType, bytes.NewReader(data), &resp)
	return resp, err
}

func (c *Client) AttachProof(ctx context.Context, taskID string, up Upload, filename, description, mimeType string) (ProofImage, error) {
	body := map[string]any{
		"storage_handle": up.StorageHandle,
		"filename":       filename,
		"description":    description,
		"mime_type":      mimeType,
		"size":           up.Size,
	}
	var resp ProofImage
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("tasks/%s/proof", url.PathEscape(taskID)), body, &resp)
	return resp, err
}

func (c *Client) StoreItems(ctx context.Context) ([]StoreItem, error) {
	var resp []StoreItem
	err := c.do(ctx, http.MethodGet, "store/items", nil, &resp)
	return resp, err
}

// Purchase buys or re-selects imageRef; nil clears the selection.
func (c *Client) Purchase(ctx context.Context, imageRef *string) (Purchase, error) {
	body := map[string]any{}
	if imageRef != nil {
		body["image_ref"] = *imageRef
	}
	var resp Purchase
	err := c.do(ctx, http.MethodPost, "store/purchase", body, &resp)
	return resp, err
}

func (c *Client) Leaderboard(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	endpoint := "leaderboard"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []LeaderboardEntry
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	return c.send(ctx, method, endpoint, "application/json", &buf, out)
}

func (c *Client) send(ctx context.Context, method, endpoint, contentType string, body io.Reader, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(endpoint), body)
	if err != nil {
		return err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) url(endpoint string) string {
	base := strings.TrimRight(c.BaseURL, "/")
	if p := strings.Trim(c.BasePath, "/"); p != "" {
		base += "/" + p
	}
	return base + "/" + strings.TrimLeft(endpoint, "/")
}
