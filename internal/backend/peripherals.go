package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
)

var ErrInvalidBinUpdate = errors.New("invalid bin update")

// MaxDistanceCM is the largest reading the ultrasonic bin sensor reports.
const MaxDistanceCM = 1000

func (c *Client) UpdateBin(ctx context.Context, status string, distanceCM float64) (json.RawMessage, error) {
	if distanceCM < 0 || distanceCM > MaxDistanceCM {
		return nil, fmt.Errorf("%w: distance_cm %.1f out of range", ErrInvalidBinUpdate, distanceCM)
	}
	if status == "" {
		status = "terisi"
	}
	ctx, cancel := c.bounded(ctx)
	defer cancel()

	body := struct {
		Status     string  `json:"status"`
		DistanceCM float64 `json:"distance_cm"`
	}{Status: status, DistanceCM: distanceCM}

	var out json.RawMessage
	if err := c.postJSON(ctx, "/api/bin-update", body, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ScanResult is the part of a scan-trash response the gateway acts on; Raw
// keeps the full body for the display.
type ScanResult struct {
	Status     string          `json:"status"`
	Message    string          `json:"message,omitempty"`
	Label      string          `json:"label,omitempty"`
	Confidence float64         `json:"confidence,omitempty"`
	ESPCommand string          `json:"esp_command,omitempty"`
	Points     int64           `json:"points,omitempty"`
	NewSaldo   int64           `json:"new_saldo,omitempty"`
	Raw        json.RawMessage `json:"-"`
}

func (r ScanResult) OK() bool { return r.Status == "success" }

// ScanTrash uploads one camera frame for classification.
func (c *Client) ScanTrash(ctx context.Context, image io.Reader) (ScanResult, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "trash.jpg")
	if err != nil {
		return ScanResult{}, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return ScanResult{}, err
	}
	if err := mw.Close(); err != nil {
		return ScanResult{}, err
	}

	ctx, cancel := c.bounded(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/scan-trash", &buf)
	if err != nil {
		return ScanResult{}, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	var raw json.RawMessage
	if err := c.do(req, &raw); err != nil {
		return ScanResult{}, fmt.Errorf("%w: scan trash: %w", ErrBackend, err)
	}
	var res ScanResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ScanResult{}, fmt.Errorf("decode scan result: %w", err)
	}
	res.Raw = raw
	return res, nil
}
