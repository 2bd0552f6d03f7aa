package media

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Script is the greeting spoken in the personalized video. Name and city
// are title-cased without lowering the rest ("mcDonald" stays "McDonald").
func Script(name, city string) string {
	title := cases.Title(language.English, cases.NoLower)
	return fmt.Sprintf("Hi %s from %s, thanks for checking this out!",
		title.String(strings.TrimSpace(name)),
		title.String(strings.TrimSpace(city)))
}
