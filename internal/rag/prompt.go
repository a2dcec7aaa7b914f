package rag

import (
	"encoding/json"
	"strings"
)

const (
	// SummaryBudget is how many leading characters of a document go into a
	// summary prompt.
	SummaryBudget = 2000
	// SectionsBudget is how many leading characters of a document go into a
	// section-extraction prompt.
	SectionsBudget = 3000

	contextSeparator = "\n"
)

// AnswerPrompt builds the Q&A prompt from the selected chunks, which must
// already be in document order, and the question.
func AnswerPrompt(chunks []RankedChunk, question string) string {
	parts := make([]string, len(chunks))
	for i, c := range chunks {
		parts[i] = c.Text
	}

	var sb strings.Builder
	sb.WriteString("Based on the following context from a document, answer the question. ")
	sb.WriteString("Use only the information in the context.\n\n")
	sb.WriteString("Context:\n")
	sb.WriteString(strings.Join(parts, contextSeparator))
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(question)
	sb.WriteString("\n\nAnswer:")
	return sb.String()
}

// SummaryPrompt asks for a concise summary of the start of text.
func SummaryPrompt(text string) string {
	return "Please provide a concise summary of the following document:\n\n" + truncate(text, SummaryBudget)
}

// SectionsPrompt asks for the main sections of the start of text as JSON.
func SectionsPrompt(text string) string {
	var sb strings.Builder
	sb.WriteString("Please identify the main sections in this document and provide a brief summary of each section:\n\n")
	sb.WriteString(truncate(text, SectionsBudget))
	sb.WriteString("\n\nPlease format the response as a JSON array of objects with 'title' and 'summary' fields.")
	return sb.String()
}

// Section is one entry of a section-extraction response.
type Section struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// parseSections extracts the first JSON array of sections from raw model
// output. Models often wrap the array in prose or code fences; anything that
// does not decode yields nil.
func parseSections(raw string) []Section {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start < 0 || end <= start {
		return nil
	}

	var sections []Section
	if err := json.Unmarshal([]byte(raw[start:end+1]), &sections); err != nil {
		return nil
	}
	return sections
}
