package notice

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

const (
	keyActivityLimit = "governor.activity_limit"
	keyTooFewMembers = "governor.too_few_members"
	keyBanned        = "governor.banned"
)

var supported = []language.Tag{language.English, language.Russian}

var messages = map[language.Tag]map[string]string{
	language.English: {
		keyActivityLimit: "This chat exceeded the daily activity limit. The bot is leaving and will not come back.",
		keyTooFewMembers: "This chat has fewer than %d members. The bot only works in larger chats and is leaving.",
		keyBanned:        "This chat is banned from using the bot. The invite was declined.",
	},
	language.Russian: {
		keyActivityLimit: "Этот чат превысил дневной лимит активности. Бот покидает чат и не вернётся.",
		keyTooFewMembers: "В этом чате меньше %d участников. Бот работает только в больших чатах и покидает чат.",
		keyBanned:        "Этот чат заблокирован для бота. Приглашение отклонено.",
	},
}

var builder = newBuilder()

func newBuilder() *catalog.Builder {
	b := catalog.NewBuilder(catalog.Fallback(language.English))
	for tag, entries := range messages {
		for key, msg := range entries {
			if err := b.SetString(tag, key, msg); err != nil {
				panic(err)
			}
		}
	}
	return b
}

// Catalog renders the user-facing notices sent before the bot leaves a chat
type Catalog struct {
	tag     language.Tag
	printer *message.Printer
}

// New picks the closest supported language for locale, English if none match
func New(locale string) *Catalog {
	tag, _ := language.MatchStrings(language.NewMatcher(supported), locale)
	base, _ := tag.Base()
	tag = language.Make(base.String())

	return &Catalog{
		tag:     tag,
		printer: message.NewPrinter(tag, message.Catalog(builder)),
	}
}

// Locale returns the language the catalog renders in
func (c *Catalog) Locale() string {
	return c.tag.String()
}

func (c *Catalog) ActivityLimit() string {
	return c.printer.Sprintf(keyActivityLimit)
}

func (c *Catalog) TooFewMembers(minMembers int) string {
	return c.printer.Sprintf(keyTooFewMembers, minMembers)
}

func (c *Catalog) Banned() string {
	return c.printer.Sprintf(keyBanned)
}
