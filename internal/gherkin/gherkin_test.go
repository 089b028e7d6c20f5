package gherkin

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baskaranangappan/gherkinscriptgenerator/internal/browser"
)

type fakeClient struct {
	reply  string
	err    error
	prompt string
	calls  int
}

func (c *fakeClient) Generate(_ context.Context, _, prompt string) (string, error) {
	c.calls++
	c.prompt = prompt
	return c.reply, c.err
}

func (c *fakeClient) GetModelName() string { return "fake/model" }

func TestClean(t *testing.T) {
	raw := "```gherkin\n" +
		"Feature: Validate navigation menu functionality\n" +
		"  As a shopper\n" +
		"  I want menus\n" +
		"  So that I can browse\n" +
		"\n\n" +
		"Background:\n" +
		"  Given the site is up\n" +
		"\n" +
		"Scenario: Verify Store menu appears on hover   \n" +
		"  Given the user is on the \"https://a.test\" page\n" +
		"\n\n\n" +
		"Scenario: Verify Mac menu appears on hover\n" +
		"  Then a dropdown menu should appear\n" +
		"```\n"

	want := "Feature: Validate navigation menu functionality\n" +
		"\n" +
		"Scenario: Verify Store menu appears on hover\n" +
		"  Given the user is on the \"https://a.test\" page\n" +
		"\n" +
		"Scenario: Verify Mac menu appears on hover\n" +
		"  Then a dropdown menu should appear"

	assert.Equal(t, want, Clean(raw))
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(GenericHover("https://a.test")))
	assert.Error(t, Validate("Sorry, I cannot help with that."))
	assert.Error(t, Validate("Feature: Empty"))
}

func TestWriterFallsBackWithoutElements(t *testing.T) {
	client := &fakeClient{}
	w := NewWriter(nil)

	hover, err := w.Hover(context.Background(), client, "https://a.test", nil, browser.Structure{})
	require.NoError(t, err)
	assert.Equal(t, GenericHover("https://a.test"), hover)

	popup, err := w.Popup(context.Background(), client, "https://a.test", nil, browser.Structure{})
	require.NoError(t, err)
	assert.Equal(t, GenericPopup("https://a.test"), popup)

	assert.Zero(t, client.calls)
}

func TestWriterHoverUsesModel(t *testing.T) {
	client := &fakeClient{reply: "```gherkin\nFeature: Menus\nScenario: Verify Products menu\n  Given the user is on the \"https://a.test\" page\n```"}
	elements := []browser.Element{{
		Text:     "Products",
		Revealed: []browser.Revealed{{Text: "Shoes"}},
	}}

	out, err := NewWriter(nil).Hover(context.Background(), client, "https://a.test", elements, browser.Structure{Title: "Acme"})
	require.NoError(t, err)
	assert.Equal(t, "Feature: Menus\n\nScenario: Verify Products menu\n  Given the user is on the \"https://a.test\" page", out)

	assert.Contains(t, client.prompt, "Page Title: Acme")
	assert.Contains(t, client.prompt, `"Products"`)
	assert.Contains(t, client.prompt, `"Shoes"`)
}

func TestWriterPopupPropagatesErrors(t *testing.T) {
	client := &fakeClient{err: errors.New("rate limited")}
	elements := []browser.Element{{Text: "Log in", PopupTitle: "Sign in"}}

	_, err := NewWriter(nil).Popup(context.Background(), client, "https://a.test", elements, browser.Structure{})
	assert.ErrorContains(t, err, "rate limited")

	client = &fakeClient{reply: "I can't do that"}
	_, err = NewWriter(nil).Popup(context.Background(), client, "https://a.test", elements, browser.Structure{})
	assert.ErrorContains(t, err, "no Feature declaration")
}
