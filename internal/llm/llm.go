// Package llm talks to the AI model that generates question papers and
// grades scanned answer sheets. Every call carries the calling teacher's own
// API key; clients are built per call and never cached across users.
package llm

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"
	"github.com/sashabaranov/go-openai/jsonschema"

	"github.com/ajay-kaushal/examaii-main/internal/errs"
	"github.com/ajay-kaushal/examaii-main/internal/model"
)

// DefaultModel is the multimodal model used for all operations.
const DefaultModel = "gemini-2.5-flash"

// Client issues question-generation and grading calls against an
// OpenAI-compatible endpoint.
type Client struct {
	baseURL string
	model   string
}

// New creates a client. baseURL may be empty for the default endpoint.
func New(baseURL, modelName string) *Client {
	if modelName == "" {
		modelName = DefaultModel
	}
	return &Client{baseURL: baseURL, model: modelName}
}

// api builds a fresh API client bound to one user's key.
func (c *Client) api(apiKey string) (*openai.Client, error) {
	if apiKey == "" {
		return nil, errs.Validation("Gemini API key not configured. Add your key via the profile menu.")
	}
	config := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		config.BaseURL = c.baseURL
	}
	return openai.NewClientWithConfig(config), nil
}

// questionSchema constrains generation and extraction responses to a list of
// question/marks pairs.
var questionSchema = &jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"questions": {
			Type:        jsonschema.Array,
			Description: "A list of questions.",
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"question": {Type: jsonschema.String, Description: "The text of the question."},
					"marks":    {Type: jsonschema.Number, Description: "The marks allocated to this question."},
				},
				Required: []string{"question", "marks"},
			},
		},
	},
	Required: []string{"questions"},
}

// gradingSchema constrains grading responses to a full per-question
// breakdown plus a best-effort identity extraction from the sheet.
var gradingSchema = &jsonschema.Definition{
	Type: jsonschema.Object,
	Properties: map[string]jsonschema.Definition{
		"totalScore": {
			Type:        jsonschema.Number,
			Description: "The total score awarded to the student for the entire paper.",
		},
		"overallFeedback": {
			Type:        jsonschema.String,
			Description: "A summary of the student's overall performance, highlighting strengths and areas for improvement.",
		},
		"answers": {
			Type:        jsonschema.Array,
			Description: "A detailed breakdown of the grading for each question.",
			Items: &jsonschema.Definition{
				Type: jsonschema.Object,
				Properties: map[string]jsonschema.Definition{
					"question": {Type: jsonschema.String, Description: "The original question text."},
					"score":    {Type: jsonschema.Number, Description: "The marks awarded for the answer to this specific question."},
					"feedback": {Type: jsonschema.String, Description: "Specific feedback on the student's answer for this question."},
				},
				Required: []string{"question", "score", "feedback"},
			},
		},
		"detectedStudentName": {
			Type:        jsonschema.String,
			Description: "The student name written on the sheet, or an empty string.",
		},
		"detectedRollNumber": {
			Type:        jsonschema.String,
			Description: "The roll number written on the sheet, or an empty string.",
		},
	},
	Required: []string{"totalScore", "overallFeedback", "answers"},
}

type questionList struct {
	Questions []model.Question `json:"questions"`
}

// GenerateQuestions creates a fresh question paper from scratch.
func (c *Client) GenerateQuestions(ctx context.Context, apiKey, topic string, numQuestions, totalMarks int) ([]model.Question, error) {
	prompt := fmt.Sprintf(`You are an expert educator. Create a question paper on the topic of %q.
It must have exactly %d questions.
The total marks for the paper should be exactly %d. Distribute the marks among the questions appropriately.
Generate the questions in a JSON format.`, topic, numQuestions, totalMarks)

	var result questionList
	err := c.call(ctx, apiKey, "question_paper", questionSchema, &result,
		openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
	if err != nil {
		return nil, errs.Transport("Failed to generate questions. Please check the topic and try again.", err)
	}
	return result.Questions, nil
}

// ExtractQuestions digitizes an uploaded question paper verbatim. A paper
// whose marks cannot be read comes back as an empty slice, not an error;
// deciding what that means is the caller's job.
func (c *Client) ExtractQuestions(ctx context.Context, apiKey string, file []byte, mimeType, topic string) ([]model.Question, error) {
	prompt := fmt.Sprintf(`You are an expert educator tasked with digitizing a question paper with 100%% accuracy.

Exam Details Provided by Teacher:
- Topic: %q

Your Task:
1. Analyze the provided document (image or PDF).
2. You MUST identify and extract every question text and its allocated marks EXACTLY as written in the document.
3. Do NOT invent, infer, or distribute marks. If marks for a question are not explicitly written in the document, you must return an empty questions array.
4. The number of questions and the marks for each question must precisely match the source document.
5. Return the extracted questions and their marks in the specified JSON format. Your output must be perfect.`, topic)

	var result questionList
	err := c.call(ctx, apiKey, "question_paper", questionSchema, &result,
		fileMessage(prompt, file, mimeType))
	if err != nil {
		return nil, errs.Transport("Failed to extract questions from the uploaded file. The file might be unreadable or the format is not supported by the AI.", err)
	}
	return result.Questions, nil
}

// GenerateFromPattern creates a brand-new paper that mirrors the structure
// and mark distribution of an uploaded one.
func (c *Client) GenerateFromPattern(ctx context.Context, apiKey string, file []byte, mimeType, topic string, totalMarks int) ([]model.Question, error) {
	prompt := fmt.Sprintf(`You are an expert educator. Your task is to create a new question paper based on the pattern of an existing one provided as a file.

Exam Details Provided by Teacher:
- Topic: %q
- Total Marks: %d

Your Task:
1. Thoroughly analyze the provided document (image or PDF) to understand its structure. Pay attention to:
   - The types of questions (e.g., multiple choice, short answer, long answer, problem-solving).
   - The cognitive level (e.g., knowledge, comprehension, application, analysis).
   - The distribution of marks across different questions and topics within the main subject.
   - The overall difficulty level.
2. Based on this analysis, generate a completely new set of questions on the same topic (%q).
3. This new question paper must follow the same pattern, structure, and mark distribution as the original.
4. The total marks for the new paper must be exactly %d.
5. Return the newly generated questions and their marks in the specified JSON format. Do NOT copy questions from the provided document.`,
		topic, totalMarks, topic, totalMarks)

	var result questionList
	err := c.call(ctx, apiKey, "question_paper", questionSchema, &result,
		fileMessage(prompt, file, mimeType))
	if err != nil {
		return nil, errs.Transport("Failed to generate questions from the uploaded paper's pattern. The file might be unreadable or the AI could not determine a clear structure.", err)
	}
	if len(result.Questions) == 0 {
		return nil, errs.Transport("Failed to generate questions from the uploaded paper's pattern. The file might be unreadable or the AI could not determine a clear structure.",
			fmt.Errorf("model returned no questions"))
	}
	return result.Questions, nil
}

// GradeSubmission evaluates a scanned answer sheet against its question
// paper and returns the full breakdown.
func (c *Client) GradeSubmission(ctx context.Context, apiKey string, questions []model.Question, totalMarks int, sheet []byte, mimeType string) (*model.GradedResult, error) {
	var list strings.Builder
	for i, q := range questions {
		fmt.Fprintf(&list, "%d. %s (%d marks)\n", i+1, q.Question, q.Marks)
	}

	prompt := fmt.Sprintf(`You are an AI-powered exam evaluator. Your task is to grade a student's answer sheet based on a provided question paper.

Question Paper Details:
- Total Marks: %d
- Questions:
%s
Instructions:
1. Carefully analyze the attached answer sheet.
2. Evaluate the student's answers for each question against the provided question paper.
3. Award marks for each question based on the correctness and completeness of the answer. Be fair but strict.
4. Calculate the total score. The maximum possible score is %d.
5. Provide constructive feedback for each answer.
6. Provide a summary of the student's overall performance.
7. If a student name or roll number is written on the sheet, report it; otherwise leave those fields empty.
8. Return your evaluation in the specified JSON format.`, totalMarks, list.String(), totalMarks)

	var result model.GradedResult
	err := c.call(ctx, apiKey, "graded_result", gradingSchema, &result,
		fileMessage(prompt, sheet, mimeType))
	if err != nil {
		return nil, errs.Transport("AI grading failed. The submitted sheet might be unclear or there was an issue with the AI model.", err)
	}
	return &result, nil
}

// call runs one structured-output completion and decodes the response into
// out. The wrapped error carries the upstream detail for logs.
func (c *Client) call(ctx context.Context, apiKey, schemaName string, schema *jsonschema.Definition, out any, msgs ...openai.ChatCompletionMessage) error {
	api, err := c.api(apiKey)
	if err != nil {
		return err
	}

	resp, err := api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: msgs,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   schemaName,
				Schema: schema,
				Strict: true,
			},
		},
		Temperature: 0.1,
	})
	if err != nil {
		return fmt.Errorf("model call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return fmt.Errorf("model returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("model response", "schema", schemaName, "raw", raw)

	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("parse model response: %w (raw: %s)", err, raw)
	}
	return nil
}

// fileMessage builds a user message carrying the prompt text plus the file
// inline as a data URL.
func fileMessage(prompt string, file []byte, mimeType string) openai.ChatCompletionMessage {
	dataURL := fmt.Sprintf("data:%s;base64,%s", mimeType, base64.StdEncoding.EncodeToString(file))
	return openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser,
		MultiContent: []openai.ChatMessagePart{
			{Type: openai.ChatMessagePartTypeText, Text: prompt},
			{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURL}},
		},
	}
}
