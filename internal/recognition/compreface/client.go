package compreface

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"face-scout-go/config"

	log "github.com/sirupsen/logrus"
)

// ErrNoFaces wird zurückgegeben, wenn CompreFace kein Gesicht im Bild findet
var ErrNoFaces = errors.New("no faces found in image")

// Client für die CompreFace-API
type Client struct {
	config     config.CompreFaceConfig
	httpClient *http.Client
}

// Box repräsentiert die Begrenzungsbox eines Gesichts
type Box struct {
	Probability float64 `json:"probability"`
	XMin        int     `json:"x_min"`
	YMin        int     `json:"y_min"`
	XMax        int     `json:"x_max"`
	YMax        int     `json:"y_max"`
}

// Subject repräsentiert eine erkannte Person
type Subject struct {
	Subject    string  `json:"subject"`
	Similarity float64 `json:"similarity"`
}

// RecognitionResult repräsentiert ein erkanntes Gesicht
type RecognitionResult struct {
	Box      Box       `json:"box"`
	Subjects []Subject `json:"subjects"`
}

// RecognitionResponse repräsentiert die Antwort der CompreFace-API
type RecognitionResponse struct {
	Result []RecognitionResult `json:"result"`
}

// AddResponse repräsentiert die Antwort beim Hinzufügen eines Beispiels
type AddResponse struct {
	ImageID string `json:"image_id"`
	Subject string `json:"subject"`
}

// NewClient erstellt einen neuen CompreFace-Client
func NewClient(cfg config.CompreFaceConfig) *Client {
	return &Client{
		config: cfg,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// Ping prüft, ob der CompreFace-Dienst erreichbar ist
func (c *Client) Ping(ctx context.Context) (bool, error) {
	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/subjects/")
	if err != nil {
		return false, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return false, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.config.RecognitionAPIKey)
	req.Header.Set("Content-Type", "application/json")

	log.Debugf("Testing CompreFace connection at: %s", apiURL)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		return true, nil
	}

	bodyBytes, _ := io.ReadAll(resp.Body)
	log.Warnf("CompreFace connection test failed (status %d): %s", resp.StatusCode, string(bodyBytes))
	return false, nil
}

// Recognize sendet ein Bild zur Gesichtserkennung an CompreFace.
// Findet der Dienst kein Gesicht, wird ErrNoFaces zurückgegeben.
func (c *Client) Recognize(ctx context.Context, imageData []byte, filename string) (*RecognitionResponse, error) {
	log.Debugf("Sending image to CompreFace recognition: %s", filename)

	// Multipart-Form-Daten erstellen
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(imageData); err != nil {
		return nil, fmt.Errorf("failed to write image data: %w", err)
	}

	// Maximum der zurückgegebenen Treffer pro Gesicht
	if err := writer.WriteField("limit", "10"); err != nil {
		log.Warnf("Failed to add limit parameter: %v", err)
	}

	// Schwellenwert für die Ähnlichkeit (0-1)
	threshold := fmt.Sprintf("%.2f", c.config.SimilarityThreshold)
	if err := writer.WriteField("threshold", threshold); err != nil {
		log.Warnf("Failed to add threshold parameter: %v", err)
	}

	// Wahrscheinlichkeit, ab der ein Gesicht als solches gilt
	detProb := fmt.Sprintf("%.2f", c.config.DetProbThreshold)
	if err := writer.WriteField("det_prob_threshold", detProb); err != nil {
		log.Warnf("Failed to add det_prob_threshold parameter: %v", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/recognize")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", apiURL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.config.RecognitionAPIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()
	log.Debugf("CompreFace recognition request took %s", time.Since(start))

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		// Ein Bild ohne Gesicht ist kein Fehler der Pipeline
		if resp.StatusCode == http.StatusBadRequest && strings.Contains(string(bodyBytes), "No face is found") {
			return nil, ErrNoFaces
		}
		return nil, fmt.Errorf("CompreFace API returned error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result RecognitionResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	log.Debugf("CompreFace detected %d faces", len(result.Result))
	return &result, nil
}

// GetAllSubjects ruft alle bekannten Subjekte von CompreFace ab
func (c *Client) GetAllSubjects(ctx context.Context) ([]string, error) {
	apiURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/subjects/")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "GET", apiURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.config.RecognitionAPIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("CompreFace API returned error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result struct {
		Subjects []string `json:"subjects"`
	}
	if err := json.Unmarshal(bodyBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	log.Debugf("Retrieved %d subjects from CompreFace", len(result.Subjects))
	return result.Subjects, nil
}

// AddSubjectExample fügt ein Beispielbild für ein Subjekt hinzu.
// Ein noch unbekanntes Subjekt wird dabei automatisch angelegt.
func (c *Client) AddSubjectExample(ctx context.Context, subjectName string, imageData []byte, filename string) (*AddResponse, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, bytes.NewReader(imageData)); err != nil {
		return nil, fmt.Errorf("failed to copy image data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart writer: %w", err)
	}

	baseURL, err := url.JoinPath(c.config.URL, "/api/v1/recognition/faces")
	if err != nil {
		return nil, fmt.Errorf("failed to create API URL: %w", err)
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}
	q := u.Query()
	q.Set("subject", subjectName)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, "POST", u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("x-api-key", c.config.RecognitionAPIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("CompreFace API returned error (status %d): %s", resp.StatusCode, string(bodyBytes))
	}

	var result AddResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	log.Infof("Added example for subject %s with image ID %s", result.Subject, result.ImageID)
	return &result, nil
}
