package gherkin

import (
	"encoding/json"
	"fmt"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/browser"
)

const hoverSystemPrompt = `You are an expert QA automation engineer. Generate SIMPLE, CLEAN Gherkin scenarios.

CRITICAL RULES:
1. NO user stories (As a user, I want...)
2. NO Background sections
3. NO data tables
4. NO technical details (XPath, selectors, classes)
5. Use "the user" not "I"
6. Keep scenarios simple and readable
7. Cover as many scenarios as the elements allow
8. Use only: Feature, Scenario, Given, When, Then, And
9. Each scenario MUST have a UNIQUE, descriptive title that includes the element name
10. Format: Feature title, BLANK LINE, then scenarios`

const popupSystemPrompt = `You are an expert QA automation engineer. Generate SIMPLE, CLEAN Gherkin scenarios.

CRITICAL RULES:
1. NO user stories (As a user, I want...)
2. NO Background sections
3. NO data tables
4. NO technical details
5. Use "the user" not "I"
6. Keep scenarios simple
7. Cover as many scenarios as the triggers allow
8. Follow the exact format provided`

type hoverInfo struct {
	Text     string   `json:"text"`
	Revealed []string `json:"revealed"`
}

type popupInfo struct {
	Trigger string `json:"trigger_text"`
	Title   string `json:"popup_title,omitempty"`
	Content string `json:"popup_content"`
}

// HoverPrompt builds the system and user prompts for hover scenarios.
func HoverPrompt(url string, elements []browser.Element, structure browser.Structure) (system, prompt string) {
	infos := make([]hoverInfo, 0, len(elements))
	for _, el := range elements {
		info := hoverInfo{Text: clip(el.Text, 50), Revealed: []string{}}
		for _, r := range el.Revealed {
			info.Revealed = append(info.Revealed, clip(r.Text, 30))
		}
		infos = append(infos, info)
	}

	prompt = fmt.Sprintf(`Generate a simple Gherkin feature file for hover interactions on this website:

URL: %[1]s
Page Title: %[2]s

Detected Hover Elements (that reveal dropdowns/menus when hovered):
%[3]s

EXPECTED OUTPUT FORMAT (FOLLOW EXACTLY):

Feature: Validate navigation menu functionality

Scenario: Verify Store navigation menu dropdown appears on hover
  Given the user is on the "%[1]s" page
  When the user hovers over the navigation menu "Store"
  Then a dropdown menu should appear
  And the menu should contain clickable options

Scenario: Verify navigation through Store dropdown menu
  Given the user is on the "%[1]s" page
  When the user hovers over the navigation menu "Store"
  And clicks the link "Shop the Latest" from the dropdown
  Then the page URL should change to the expected page

IMPORTANT:
- BLANK LINE after Feature statement
- Each Scenario title MUST include the specific element name
- Replace "Store" with actual detected element text
- Replace "Shop the Latest" with actual revealed element text
- No tables, no background, no user stories
- Use "the user" consistently

Generate the Gherkin feature now:`, url, titleOr(structure.Title), indentJSON(infos))
	return hoverSystemPrompt, prompt
}

// PopupPrompt builds the system and user prompts for popup scenarios.
func PopupPrompt(url string, elements []browser.Element, structure browser.Structure) (system, prompt string) {
	infos := make([]popupInfo, 0, len(elements))
	for _, el := range elements {
		content := el.PopupText
		if content == "" {
			content = "modal content"
		}
		infos = append(infos, popupInfo{
			Trigger: clip(el.Text, 100),
			Title:   el.PopupTitle,
			Content: clip(content, 150),
		})
	}

	prompt = fmt.Sprintf(`Generate a simple Gherkin feature file for popup/modal interactions:

URL: %[1]s
Page Title: %[2]s

Detected Popup Triggers (buttons/links that open modals):
%[3]s

EXPECTED OUTPUT FORMAT (FOLLOW EXACTLY):

Feature: Validate "Button Name" pop-up functionality

Scenario: Verify the cancel button in the pop-up
  Given the user is on the "%[1]s" page
  When the user clicks the "Button Name" button
  Then a pop-up should appear with the title "Popup Title"
  And the user clicks the "Cancel" button
  Then the pop-up should close and the user should remain on the same page

Scenario: Verify the continue button in the pop-up
  Given the user is on the "%[1]s" page
  When the user clicks the "Button Name" button
  Then a pop-up should appear with the title "Popup Title"
  And the user clicks the "Continue" button
  Then the page should navigate or perform the expected action

IMPORTANT:
- Replace "Button Name" with actual detected trigger text
- Replace "Popup Title" with actual popup content
- No tables, background, or user stories
- Use "the user" consistently
- Test both cancel and continue/confirm actions

Generate the Gherkin feature now:`, url, titleOr(structure.Title), indentJSON(infos))
	return popupSystemPrompt, prompt
}

func indentJSON(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "[]"
	}
	return string(b)
}

func titleOr(title string) string {
	if title == "" {
		return "Unknown"
	}
	return title
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
