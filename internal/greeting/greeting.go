package greeting

import (
	"fmt"

	"github.com/nicksnyder/go-i18n/v2/i18n"
	log "github.com/sirupsen/logrus"
	"golang.org/x/text/language"
)

const welcomeBackID = "welcome_back"

// Eingebaute Begrüßungstexte; Englisch ist die Rückfallsprache
var messages = map[language.Tag]*i18n.Message{
	language.English:    {ID: welcomeBackID, Other: "Welcome back, {{.Name}}!"},
	language.German:     {ID: welcomeBackID, Other: "Willkommen zurück, {{.Name}}!"},
	language.French:     {ID: welcomeBackID, Other: "Bon retour, {{.Name}} !"},
	language.Spanish:    {ID: welcomeBackID, Other: "¡Bienvenido de nuevo, {{.Name}}!"},
	language.Indonesian: {ID: welcomeBackID, Other: "Selamat datang kembali, {{.Name}}!"},
}

// Greeter erzeugt den Begrüßungstext für einen erkannten Gast
type Greeter struct {
	localizer *i18n.Localizer
	lang      language.Tag
}

// New erstellt einen Greeter für die angegebene Sprache (BCP 47, z.B. "en" oder "de-AT")
func New(lang string) (*Greeter, error) {
	tag, err := language.Parse(lang)
	if err != nil {
		return nil, fmt.Errorf("invalid greeting language %q: %w", lang, err)
	}

	bundle := i18n.NewBundle(language.English)
	for t, msg := range messages {
		if err := bundle.AddMessages(t, msg); err != nil {
			return nil, fmt.Errorf("failed to register %s greeting: %w", t, err)
		}
	}

	log.WithField("component", "greeting").Infof("Greeting language set to %s", tag)
	return &Greeter{
		localizer: i18n.NewLocalizer(bundle, tag.String(), language.English.String()),
		lang:      tag,
	}, nil
}

// Default liefert einen englischen Greeter
func Default() *Greeter {
	g, err := New("en")
	if err != nil {
		panic(err)
	}
	return g
}

// Greet liefert z.B. "Welcome back, Ann!"
func (g *Greeter) Greet(displayName string) string {
	text, err := g.localizer.Localize(&i18n.LocalizeConfig{
		MessageID:    welcomeBackID,
		TemplateData: map[string]string{"Name": displayName},
	})
	if err != nil {
		log.WithField("component", "greeting").Warnf("Failed to localize greeting for %s: %v", g.lang, err)
		return fmt.Sprintf("Welcome back, %s!", displayName)
	}
	return text
}
