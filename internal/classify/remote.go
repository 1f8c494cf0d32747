package classify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"
)

// RemoteClassifier calls an external model server over HTTP. The server is
// expected to be local and fast; there is no retry or backoff here - a
// failed call is a terminal failure for the event.
type RemoteClassifier struct {
	url        string
	httpClient *http.Client
}

// NewRemoteClassifier creates a classifier backed by a model server
func NewRemoteClassifier(url string, timeout time.Duration) *RemoteClassifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteClassifier{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type classifyRequest struct {
	Text string `json:"text"`
}

// Classify posts the text to the model server and decodes the result.
// Empty input short-circuits to the neutral default without a network call.
func (c *RemoteClassifier) Classify(ctx context.Context, text string) (*Classification, error) {
	if text == "" {
		return neutralDefault("remote-unknown"), nil
	}

	body, err := json.Marshal(classifyRequest{Text: text})
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal classify request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build classify request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "classify request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, errors.Errorf("model server returned status %d", resp.StatusCode)
	}

	var result Classification
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "failed to decode classify response")
	}

	if result.Label == "" {
		return nil, errors.New("model server returned no label")
	}

	return &result, nil
}
