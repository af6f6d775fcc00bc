package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Intent is the category an upstream LLM-backed classifier assigns to a
// free-text reply. The orchestrator only consumes the category.
type Intent string

const (
	IntentInterested    Intent = "interested"
	IntentNotInterested Intent = "not_interested"
	IntentDoNotContact  Intent = "do_not_contact"
	IntentNurture       Intent = "nurture"
	IntentOutOfOffice   Intent = "out_of_office"
	IntentOther         Intent = "other"
)

// Classifier categorizes a reply. Implementations are external collaborators.
type Classifier interface {
	Classify(ctx context.Context, message string) (Intent, error)
}

// HTTPClassifier calls the reply-classification service.
type HTTPClassifier struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClassifier(baseURL, apiKey string) *HTTPClassifier {
	return &HTTPClassifier{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: 20 * time.Second},
	}
}

func (c *HTTPClassifier) Classify(ctx context.Context, message string) (Intent, error) {
	req := struct {
		Message string `json:"message"`
	}{Message: message}

	var resp struct {
		Intent string `json:"intent"`
	}

	headers := map[string]string{"Authorization": "Bearer " + c.apiKey}
	if err := postClassifier(ctx, c.client, c.baseURL+"/v1/classify", headers, req, &resp); err != nil {
		return IntentOther, err
	}

	switch Intent(resp.Intent) {
	case IntentInterested, IntentNotInterested, IntentDoNotContact, IntentNurture, IntentOutOfOffice:
		return Intent(resp.Intent), nil
	}
	return IntentOther, nil
}

func postClassifier(ctx context.Context, client *http.Client, url string, headers map[string]string, body, out interface{}) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(encoded))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("classifier returned HTTP %d", resp.StatusCode)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	return json.Unmarshal(respBody, out)
}
