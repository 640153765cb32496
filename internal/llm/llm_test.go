package llm

import (
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
)

func TestMissingAPIKey(t *testing.T) {
	c := New("", "")
	_, err := c.api("")
	if err == nil {
		t.Fatal("expected error for missing key")
	}
	if errs.KindOf(err) != errs.KindValidation {
		t.Errorf("expected validation error, got kind %d", errs.KindOf(err))
	}
	if !strings.Contains(errs.UserMessage(err), "API key not configured") {
		t.Errorf("unexpected message: %q", errs.UserMessage(err))
	}
}

func TestNewDefaultsModel(t *testing.T) {
	c := New("", "")
	if c.model != DefaultModel {
		t.Errorf("expected default model %q, got %q", DefaultModel, c.model)
	}
	c = New("https://example.com/v1", "custom-model")
	if c.model != "custom-model" {
		t.Errorf("expected custom model, got %q", c.model)
	}
	if c.baseURL != "https://example.com/v1" {
		t.Errorf("expected base URL kept, got %q", c.baseURL)
	}
}

func TestFileMessage(t *testing.T) {
	msg := fileMessage("grade this", []byte("pdf-bytes"), "application/pdf")

	if msg.Role != openai.ChatMessageRoleUser {
		t.Errorf("expected user role, got %q", msg.Role)
	}
	if len(msg.MultiContent) != 2 {
		t.Fatalf("expected text part and file part, got %d parts", len(msg.MultiContent))
	}
	if msg.MultiContent[0].Text != "grade this" {
		t.Errorf("unexpected text part: %q", msg.MultiContent[0].Text)
	}
	url := msg.MultiContent[1].ImageURL.URL
	if !strings.HasPrefix(url, "data:application/pdf;base64,") {
		t.Errorf("expected data URL with mime type, got %q", url)
	}
	if !strings.HasSuffix(url, "cGRmLWJ5dGVz") {
		t.Errorf("expected base64 payload, got %q", url)
	}
}

func TestSchemas(t *testing.T) {
	qItems := questionSchema.Properties["questions"].Items
	if qItems == nil {
		t.Fatal("question schema has no items")
	}
	for _, field := range []string{"question", "marks"} {
		if _, ok := qItems.Properties[field]; !ok {
			t.Errorf("question item schema missing %q", field)
		}
	}

	for _, field := range []string{"totalScore", "overallFeedback", "answers"} {
		found := false
		for _, r := range gradingSchema.Required {
			if r == field {
				found = true
			}
		}
		if !found {
			t.Errorf("grading schema should require %q", field)
		}
	}
	// Identity extraction is best effort, never required.
	for _, r := range gradingSchema.Required {
		if r == "detectedStudentName" || r == "detectedRollNumber" {
			t.Errorf("%q must not be required", r)
		}
	}
}
