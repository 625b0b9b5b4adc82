package ocrclient

import (
	"strings"

	"docpipe/internal/engine"
)

// DefaultInstruction is used when the caller supplies no prompt.
const DefaultInstruction = "Convert the document to markdown."

// BuildPrompt assembles the text sent alongside an image. Engine B models
// get explicit output rules because they tend to add commentary.
func BuildPrompt(filename, model, custom string, useCoordinates bool) string {
	instruction := strings.TrimSpace(custom)
	if instruction == "" {
		instruction = DefaultInstruction
	}
	var b strings.Builder
	b.WriteString(filename)
	b.WriteString(" <|grounding|>")
	b.WriteString(instruction)

	if engine.KindForModel(model) == engine.KindOllama {
		b.WriteString("\n\nIMPORTANT INSTRUCTIONS:\n")
		b.WriteString("- Return only the OCR result, without explanations or commentary.\n")
		b.WriteString("- Fix obvious spelling and grammar errors introduced by recognition.\n")
		if useCoordinates {
			b.WriteString("- Precede each text block with its bounding box as <|det|>[[x1, y1, x2, y2]]<|/det|> in 0-999 image coordinates.\n")
		}
	}
	return b.String()
}
