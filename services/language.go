package services

import (
	"strings"

	"golang.org/x/text/language"
)

var (
	baseChinese, _ = language.Chinese.Base()
	baseEnglish, _ = language.English.Base()
)

// NormalizeLanguage collapses a locale or Accept-Language value to the two
// language codes the analysis backend understands. Anything that is not
// Chinese is sent as English.
func NormalizeLanguage(locale string) string {
	tags, _, err := language.ParseAcceptLanguage(strings.ReplaceAll(locale, "_", "-"))
	if err != nil {
		return "en"
	}

	for _, tag := range tags {
		base, _ := tag.Base()
		switch base {
		case baseChinese:
			return "zh"
		case baseEnglish:
			return "en"
		}
	}
	return "en"
}
