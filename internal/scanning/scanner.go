package scanning

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

// Generation settings shared by every backend
const (
	DefaultMaxTokens = 4096
	temperature      = 0.1
	topP             = 0.1
)

// Image is an encoded strip image sent to the model
type Image struct {
	MIMEType string
	Data     []byte
}

// Base64 returns the image data as standard base64
func (i Image) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

// DataURL returns the image as a data: URL
func (i Image) DataURL() string {
	return fmt.Sprintf("data:%s;base64,%s", i.MIMEType, i.Base64())
}

// format returns the MIME subtype, e.g. "jpeg" for "image/jpeg"
func (i Image) format() string {
	if _, sub, ok := strings.Cut(i.MIMEType, "/"); ok {
		return sub
	}
	return i.MIMEType
}

// Request is the payload sent to a vision model
type Request struct {
	// Instruction is the document-type specific system instruction
	Instruction string
	// Prompt is the user text asking for the record structure
	Prompt string
	Images []Image
}

// Response is what a model call returned
type Response struct {
	// Raw is the transport response body, kept verbatim for audit
	Raw []byte
	// Text is the model's text payload
	Text string
}

// Extractor defines the interface for vision model calls
type Extractor interface {
	// Extract sends the instruction and strip images and returns the response.
	// Non-success statuses are returned as *StatusError.
	Extract(ctx context.Context, req Request) (*Response, error)
	// Close closes the extractor and releases resources
	Close() error
}

// StatusError is a non-success status from a model endpoint
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("model API error (status %d): %s", e.StatusCode, e.Body)
}
