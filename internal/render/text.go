package render

import (
	"context"
	"fmt"
	"strings"

	"github.com/jkaninda/mioo/internal/llm"
)

// Formatter converts plain text to Markdown through the language model so it
// can go through the regular Markdown rendering pipeline.
type Formatter struct {
	provider llm.Provider
}

// NewFormatter creates a Formatter.
func NewFormatter(provider llm.Provider) *Formatter {
	return &Formatter{provider: provider}
}

// ToMarkdown asks the model to reformat text as Markdown without altering
// its content.
func (f *Formatter) ToMarkdown(ctx context.Context, text string) (string, error) {
	resp, err := f.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: "You are a markdown formatting expert.",
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: fmt.Sprintf(formatPromptTemplate, text),
		}},
	})
	if err != nil {
		return "", fmt.Errorf("formatting text as markdown: %w", err)
	}

	md := strings.TrimSpace(resp.Content)
	if md == "" {
		return "", fmt.Errorf("model returned empty markdown")
	}
	return md, nil
}

const formatPromptTemplate = `You are an expert technical writer specializing in markdown formatting. Your task is to convert the following plain text into a readable markdown document.

**Instructions:**

1.  **Structure:**
    *   Use ` + "`#`" + ` for the main title, ` + "`##`" + ` for major headings, and ` + "`###`" + ` for subheadings to create a clear document hierarchy.

2.  **Emphasis:**
    *   Use **bold** for key terms and important phrases.
    *   Use *italics* for emphasis or to define terms.

3.  **Code:**
    *   Use backticks for inline code snippets, commands, or file names.
    *   Use triple backticks for multi-line code blocks, and specify the programming language if it's apparent.

4.  **Other Elements:**
    *   Use blockquotes for quotations or special notes.
    *   Format any data that appears to be tabular into a markdown table.

**Constraint:**
*   Keep all the sentences in the original text.
*   Do not make extra headings or subheadings that are not present in the original text.
*   Keep the paragraphs and line breaks as they are in the original text.
*   Keep the structure of the sentences generally the same as the original text.
*   Only use bullets and numbers for lists if they are present in the original text.
*   Do not add any additional information or context that is not present in the original text.
*   Do not alter the original meaning of the text.
*   Do not write any comments in the markdown which are not present in the original text.
*   Provide only the formatted markdown in your response.

**Plain Text to Convert:**
'''
%s
'''
`
