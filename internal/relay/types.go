package relay

import (
	"encoding/base64"
	"strings"
)

// DefaultImageMimeType is assumed when a caller sends an image without a type.
const DefaultImageMimeType = "image/jpeg"

type Image struct {
	Base64   string
	MimeType string
}

// Request is built per "generate" action and never persisted.
type Request struct {
	SystemPrompt string
	UserPrompt   string
	Image        *Image
}

func (r Request) HasInput() bool {
	return strings.TrimSpace(r.UserPrompt) != "" || (r.Image != nil && r.Image.Base64 != "")
}

// WireRequest is the JSON body exchanged between the caller and the forwarder.
type WireRequest struct {
	SystemPrompt  string  `json:"systemPrompt"`
	UserPrompt    string  `json:"userPrompt"`
	ImageBase64   *string `json:"imageBase64"`
	ImageMimeType string  `json:"imageMimeType,omitempty"`
}

func (r Request) Wire() WireRequest {
	out := WireRequest{
		SystemPrompt: r.SystemPrompt,
		UserPrompt:   r.UserPrompt,
	}
	if r.Image != nil && r.Image.Base64 != "" {
		data := r.Image.Base64
		out.ImageBase64 = &data
		out.ImageMimeType = r.Image.MimeType
	}
	return out
}

// Response carries exactly one of Result or Error.
type Response struct {
	Result *string `json:"result,omitempty"`
	Error  string  `json:"error,omitempty"`
}

func Success(text string) Response {
	return Response{Result: &text}
}

func Failure(message string) Response {
	return Response{Error: message}
}

// Prompt is what the forwarder hands to a model provider.
type Prompt struct {
	Text  string
	Image *InlineImage
}

type InlineImage struct {
	MimeType string
	Data     []byte
}

func (i InlineImage) Base64() string {
	return base64.StdEncoding.EncodeToString(i.Data)
}

func (i InlineImage) DataURL() string {
	return "data:" + i.MimeType + ";base64," + i.Base64()
}
