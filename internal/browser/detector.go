package browser

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const (
	maxRevealed = 10
	maxTextLen  = 150
)

// Revealed is an item that becomes visible once an element is activated.
type Revealed struct {
	Text string `json:"text"`
	Href string `json:"href,omitempty"`
}

// Element is an interactive element found on the page.
type Element struct {
	Tag      string     `json:"tag"`
	Text     string     `json:"text"`
	Selector string     `json:"selector"`
	Reason   string     `json:"reason"`
	Revealed []Revealed `json:"revealed,omitempty"`
	// Popup fields are only set for popup triggers whose target was found.
	PopupTitle string `json:"popup_title,omitempty"`
	PopupText  string `json:"popup_text,omitempty"`
}

// Structure summarizes the page for prompts.
type Structure struct {
	Title    string   `json:"title"`
	URL      string   `json:"url"`
	Lang     string   `json:"lang,omitempty"`
	Headings []string `json:"headings"`
	Links    int      `json:"links"`
	Buttons  int      `json:"buttons"`
	Forms    int      `json:"forms"`
	NavMenus int      `json:"nav_menus"`
}

// Analysis is the result of element detection.
type Analysis struct {
	Structure Structure `json:"structure"`
	Hover     []Element `json:"hover_elements"`
	Popup     []Element `json:"popup_elements"`
}

// Detector finds hover and popup candidates with DOM heuristics.
type Detector struct {
	maxHover int
	maxPopup int
}

// NewDetector creates a detector that reports at most maxHover hover and
// maxPopup popup elements.
func NewDetector(maxHover, maxPopup int) *Detector {
	return &Detector{maxHover: maxHover, maxPopup: maxPopup}
}

var (
	hoverMenuSelector = "nav li, [role=menubar] > li, .menu li, .navbar li, .nav li"
	submenuSelector   = "ul, [role=menu], .dropdown-menu, .submenu, .sub-menu, .mega-menu"
	dropdownSelector  = ".dropdown, .has-dropdown, .menu-item-has-children, [aria-haspopup=true], [aria-haspopup=menu]"
	modalToggle       = "[data-toggle=modal], [data-bs-toggle=modal], [aria-haspopup=dialog]"
	popupKeywords     = regexp.MustCompile(`(?i)\b(log ?in|sign ?in|sign ?up|subscribe|newsletter|contact us|share|cookie settings|get a quote|book a demo)\b`)
	whitespace        = regexp.MustCompile(`\s+`)
)

// Detect analyzes page. It only fails when ctx is done.
func (d *Detector) Detect(ctx context.Context, page *Page) (*Analysis, error) {
	if page == nil || page.doc == nil {
		return nil, fmt.Errorf("no page loaded")
	}
	doc := page.doc
	analysis := &Analysis{Structure: structureOf(page)}

	analysis.Hover = d.hoverElements(doc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	analysis.Popup = d.popupElements(doc)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return analysis, nil
}

func structureOf(page *Page) Structure {
	doc := page.doc
	s := Structure{
		Title:    page.Title,
		URL:      page.FinalURL,
		Lang:     doc.Find("html").AttrOr("lang", ""),
		Links:    doc.Find("a[href]").Length(),
		Buttons:  doc.Find("button, [role=button], input[type=submit]").Length(),
		Forms:    doc.Find("form").Length(),
		NavMenus: doc.Find("nav, [role=navigation]").Length(),
	}
	doc.Find("h1, h2").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if text := cleanText(sel.Text()); text != "" {
			s.Headings = append(s.Headings, text)
		}
		return len(s.Headings) < 5
	})
	return s
}

func (d *Detector) hoverElements(doc *goquery.Document) []Element {
	var out []Element
	seen := make(map[string]bool)
	add := func(el Element) bool {
		key := el.Selector + "|" + el.Text
		if el.Text == "" || seen[key] {
			return true
		}
		seen[key] = true
		out = append(out, el)
		return len(out) < d.maxHover
	}

	more := true
	doc.Find(hoverMenuSelector).EachWithBreak(func(_ int, li *goquery.Selection) bool {
		sub := li.ChildrenFiltered(submenuSelector)
		if sub.Length() == 0 {
			return true
		}
		trigger := li.ChildrenFiltered("a, button, span").First()
		if trigger.Length() == 0 {
			trigger = li
		}
		more = add(Element{
			Tag:      goquery.NodeName(trigger),
			Text:     cleanText(trigger.Text()),
			Selector: selectorFor(trigger),
			Reason:   "menu item with nested submenu",
			Revealed: revealedLinks(sub),
		})
		return more
	})
	if !more {
		return out
	}

	doc.Find(dropdownSelector).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		var revealed []Revealed
		if id, ok := sel.Attr("aria-controls"); ok {
			revealed = revealedLinks(doc.Find("#" + escapeID(id)))
		} else {
			revealed = revealedLinks(sel.Find(".dropdown-menu, ul").First())
		}
		trigger := sel
		if goquery.NodeName(sel) == "li" || goquery.NodeName(sel) == "div" {
			if first := sel.ChildrenFiltered("a, button").First(); first.Length() > 0 {
				trigger = first
			}
		}
		return add(Element{
			Tag:      goquery.NodeName(trigger),
			Text:     firstLine(trigger.Text()),
			Selector: selectorFor(trigger),
			Reason:   "dropdown trigger",
			Revealed: revealed,
		})
	})
	return out
}

func (d *Detector) popupElements(doc *goquery.Document) []Element {
	var out []Element
	seen := make(map[string]bool)
	add := func(el Element) bool {
		if el.Text == "" || seen[el.Selector+"|"+el.Text] {
			return true
		}
		seen[el.Selector+"|"+el.Text] = true
		out = append(out, el)
		return len(out) < d.maxPopup
	}

	more := true
	doc.Find(modalToggle).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		el := Element{
			Tag:      goquery.NodeName(sel),
			Text:     cleanText(sel.Text()),
			Selector: selectorFor(sel),
			Reason:   "modal toggle",
		}
		if target := popupTarget(doc, sel); target.Length() > 0 {
			el.PopupTitle = cleanText(target.Find(".modal-title, h1, h2, h3, h4, h5").First().Text())
			el.PopupText = truncate(cleanText(target.Text()), maxTextLen)
		}
		more = add(el)
		return more
	})
	if !more {
		return out
	}

	// Dialogs referenced by an in-page link or aria-controls.
	doc.Find("[role=dialog][id], dialog[id], .modal[id]").EachWithBreak(func(_ int, dialog *goquery.Selection) bool {
		id := escapeID(dialog.AttrOr("id", ""))
		trigger := doc.Find(fmt.Sprintf(`a[href="#%s"], [aria-controls="%s"]`, id, id)).First()
		if trigger.Length() == 0 {
			return true
		}
		more = add(Element{
			Tag:        goquery.NodeName(trigger),
			Text:       cleanText(trigger.Text()),
			Selector:   selectorFor(trigger),
			Reason:     "controls dialog",
			PopupTitle: cleanText(dialog.Find("h1, h2, h3, h4, h5").First().Text()),
			PopupText:  truncate(cleanText(dialog.Text()), maxTextLen),
		})
		return more
	})
	if !more {
		return out
	}

	doc.Find("button, a[href='#'], a:not([href]), [role=button]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		text := cleanText(sel.Text())
		if len(text) > 40 || !popupKeywords.MatchString(text) {
			return true
		}
		return add(Element{
			Tag:      goquery.NodeName(sel),
			Text:     text,
			Selector: selectorFor(sel),
			Reason:   "likely opens a popup",
		})
	})
	return out
}

func popupTarget(doc *goquery.Document, sel *goquery.Selection) *goquery.Selection {
	for _, attr := range []string{"data-target", "data-bs-target", "aria-controls", "href"} {
		v, ok := sel.Attr(attr)
		if !ok || v == "" || v == "#" {
			continue
		}
		if attr == "aria-controls" {
			v = "#" + escapeID(v)
		}
		if !strings.HasPrefix(v, "#") {
			continue
		}
		if target := doc.Find(v); target.Length() > 0 {
			return target.First()
		}
	}
	return &goquery.Selection{}
}

func revealedLinks(sel *goquery.Selection) []Revealed {
	var out []Revealed
	sel.Find("a").EachWithBreak(func(_ int, a *goquery.Selection) bool {
		if text := cleanText(a.Text()); text != "" {
			out = append(out, Revealed{Text: text, Href: a.AttrOr("href", "")})
		}
		return len(out) < maxRevealed
	})
	return out
}

func selectorFor(sel *goquery.Selection) string {
	tag := goquery.NodeName(sel)
	if id := sel.AttrOr("id", ""); id != "" {
		return "#" + escapeID(id)
	}
	if classes := strings.Fields(sel.AttrOr("class", "")); len(classes) > 0 {
		return tag + "." + classes[0]
	}
	if label := sel.AttrOr("aria-label", ""); label != "" {
		return fmt.Sprintf(`%s[aria-label="%s"]`, tag, label)
	}
	return tag
}

var idUnsafe = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func escapeID(id string) string {
	return idUnsafe.ReplaceAllStringFunc(id, func(s string) string { return `\` + s })
}

func cleanText(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = cleanText(line); line != "" {
			return line
		}
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n])) + "..."
}
