package dispatch

import "github.com/girlcodekenya/slc-whatsapp-chatbot/internal/domain"

// Selection is the closed set of interactive menu selections the bot offers.
// Adding a button means adding a constant here, a text in serviceInfo, and an
// option in welcomeOptions; resolveSelection's switch keeps the set visible.
type Selection string

const (
	SelectionPrograms   Selection = "programs"
	SelectionMentorship Selection = "mentorship"
	SelectionEvents     Selection = "events"
	SelectionContact    Selection = "contact"
)

// unknownSelectionAck is the verbatim fallback for selection IDs outside the
// closed set (stale buttons from older menus, forwarded messages).
const unknownSelectionAck = "Thanks for your selection! Send me a message and I'll do my best to help."

// serviceInfo is the immutable canned-response table, built once at process
// start and never mutated.
var serviceInfo = map[Selection]string{
	SelectionPrograms: "Our programs teach girls and young women to code: beginner bootcamps, " +
		"weekend classes and school clubs. Reply here and I'll help you find the right one.",
	SelectionMentorship: "Our mentorship programme pairs you with a woman working in tech for " +
		"six months of one-on-one guidance. Applications open at the start of each quarter.",
	SelectionEvents: "We run monthly meetups, an annual hackathon and demo days. " +
		"Ask me about upcoming dates and I'll share what's scheduled.",
	SelectionContact: "You can reach the team at hello@girlcode.co.ke or through this chat — " +
		"I'll pass your message along to a human when needed.",
}

// welcomeOptions is the fixed button set of the /start menu, in display order.
var welcomeOptions = []domain.MenuOption{
	{ID: string(SelectionPrograms), Label: "Our Programs"},
	{ID: string(SelectionMentorship), Label: "Mentorship"},
	{ID: string(SelectionEvents), Label: "Events"},
	{ID: string(SelectionContact), Label: "Contact Us"},
}

// resolveSelection maps a selection ID to its service-information text.
// Unknown IDs degrade to the generic acknowledgement, never an error.
func resolveSelection(id string) string {
	switch s := Selection(id); s {
	case SelectionPrograms, SelectionMentorship, SelectionEvents, SelectionContact:
		return serviceInfo[s]
	default:
		return unknownSelectionAck
	}
}
