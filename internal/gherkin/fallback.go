package gherkin

import "fmt"

// GenericHover is produced when no hover elements were detected.
func GenericHover(url string) string {
	return fmt.Sprintf(`Feature: Validate navigation menu functionality

Scenario: Verify hover reveals dropdown menu
  Given the user is on the "%[1]s" page
  When the user hovers over a navigation menu item
  Then a dropdown menu should appear
  And the menu should contain clickable options

Scenario: Verify navigation through dropdown menu
  Given the user is on the "%[1]s" page
  When the user hovers over a navigation menu item
  And clicks a link from the dropdown
  Then the page URL should change to the selected page`, url)
}

// GenericPopup is produced when no popup triggers were detected.
func GenericPopup(url string) string {
	return fmt.Sprintf(`Feature: Validate pop-up functionality

Scenario: Verify the cancel button in the pop-up
  Given the user is on the "%[1]s" page
  When the user clicks a button that triggers a pop-up
  Then a pop-up should appear
  And the user clicks the "Cancel" button
  Then the pop-up should close and the user should remain on the same page

Scenario: Verify the continue button in the pop-up
  Given the user is on the "%[1]s" page
  When the user clicks a button that triggers a pop-up
  Then a pop-up should appear
  And the user clicks the "Continue" button
  Then the expected action should be performed`, url)
}
