// Package gherkin turns detected page elements into Gherkin feature text.
package gherkin

import (
	"context"
	"fmt"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/browser"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/llm"
	"github.com/baskaranangappan/gherkinscriptgenerator/internal/logging"
)

// Writer generates hover and popup features with an LLM client.
type Writer struct {
	logger logging.Logger
}

// NewWriter creates a writer.
func NewWriter(logger logging.Logger) *Writer {
	return &Writer{logger: logging.OrNop(logger)}
}

// Hover generates hover scenarios, or the generic feature when elements is empty.
func (w *Writer) Hover(ctx context.Context, client llm.Client, url string, elements []browser.Element, structure browser.Structure) (string, error) {
	if len(elements) == 0 {
		w.logger.Warn("No hover elements found for %s, generating generic feature", url)
		return GenericHover(url), nil
	}
	system, prompt := HoverPrompt(url, elements, structure)
	return w.generate(ctx, client, "hover", system, prompt)
}

// Popup generates popup scenarios, or the generic feature when elements is empty.
func (w *Writer) Popup(ctx context.Context, client llm.Client, url string, elements []browser.Element, structure browser.Structure) (string, error) {
	if len(elements) == 0 {
		w.logger.Warn("No popup elements found for %s, generating generic feature", url)
		return GenericPopup(url), nil
	}
	system, prompt := PopupPrompt(url, elements, structure)
	return w.generate(ctx, client, "popup", system, prompt)
}

func (w *Writer) generate(ctx context.Context, client llm.Client, kind, system, prompt string) (string, error) {
	w.logger.Info("Generating %s interaction features with %s", kind, client.GetModelName())
	raw, err := client.Generate(ctx, system, prompt)
	if err != nil {
		return "", fmt.Errorf("generate %s features: %w", kind, err)
	}
	content := Clean(raw)
	if err := Validate(content); err != nil {
		return "", fmt.Errorf("generate %s features: %w", kind, err)
	}
	w.logger.Info("Successfully generated %s features", kind)
	return content, nil
}
