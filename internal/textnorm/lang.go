package textnorm

import "strings"

// Language tags stored on answers and index entries.
const (
	LangKazakh  = "kk"
	LangRussian = "ru"
	LangEnglish = "en"
)

const kazakhLetters = "әөүұқғңһі"

// DetectLanguage classifies text as Kazakh, Russian or English.
// Kazakh-specific letters win over plain Cyrillic.
func DetectLanguage(text string) string {
	t := strings.ToLower(text)
	if strings.ContainsAny(t, kazakhLetters) {
		return LangKazakh
	}
	for _, r := range t {
		if (r >= 'а' && r <= 'я') || r == 'ё' {
			return LangRussian
		}
	}
	return LangEnglish
}

// NotFoundMessage is the reply shown when no answer clears the confidence
// threshold.
func NotFoundMessage(lang string) string {
	switch lang {
	case LangKazakh:
		return "Базада бұл туралы ақпарат жоқ."
	case LangRussian:
		return "В базе нет информации."
	default:
		return "Not found in the knowledge base."
	}
}
