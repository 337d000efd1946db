package tuning

import (
	"fmt"
	"strings"

	"rexpro/internal/extractor"
	"rexpro/internal/llm"
)

const decodeErrorText = "[Error: Could not decode file content]"

const (
	contextIntro = "You have access to the following documents for context:\n\n"
	contextRule  = "Based ONLY on the provided documents and your system instruction, answer the user's question. If the answer is not in the documents, say you do not have that information in your provided knowledge files."
)

// Augment builds the user turn sent to the base model of a tuned model.
// Readable training files are inlined as documents ahead of the question;
// other files are attached before the user's own attachments. A model without
// training files leaves the prompt untouched.
func Augment(model TunedModel, prompt string, attachments []llm.Attachment) (string, []llm.Attachment) {
	if len(model.TrainingFiles) == 0 {
		return prompt, attachments
	}

	var docs []string
	var media []llm.Attachment
	for _, f := range model.TrainingFiles {
		if !extractor.IsDocument(f.Name, f.MimeType) {
			media = append(media, llm.Attachment{Name: f.Name, MimeType: f.MimeType, DataURL: f.DataURL})
			continue
		}
		docs = append(docs, fmt.Sprintf("--- DOCUMENT: %s ---\n%s\n--- END DOCUMENT ---", f.Name, documentText(f)))
	}

	var sb strings.Builder
	sb.WriteString(contextIntro)
	if len(docs) > 0 {
		sb.WriteString(strings.Join(docs, "\n\n"))
		sb.WriteString("\n\n")
	}
	sb.WriteString(contextRule)
	sb.WriteString("\n\nUser's question: ")
	sb.WriteString(prompt)

	out := make([]llm.Attachment, 0, len(media)+len(attachments))
	out = append(out, media...)
	out = append(out, attachments...)
	return sb.String(), out
}

func documentText(f TrainingFile) string {
	_, data, err := llm.DecodeDataURL(f.DataURL)
	if err != nil {
		return decodeErrorText
	}
	text, err := extractor.ExtractText(f.Name, f.MimeType, data)
	if err != nil {
		return decodeErrorText
	}
	return text
}
