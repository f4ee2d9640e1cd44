package extract

import "strings"

// Uncategorized is returned when no keyword matches.
const Uncategorized = "uncategorized"

type categoryRule struct {
	category string
	keywords []string
}

// categoryRules is checked in order; earlier rules win, so streaming
// services sit above the general shopping names they share words with.
var categoryRules = []categoryRule{
	{"entertainment", []string{"netflix", "spotify", "hotstar", "prime video", "bookmyshow", "sonyliv", "zee5", "youtube"}},
	{"food", []string{"swiggy", "zomato", "dominos", "domino's", "mcdonald", "kfc", "pizza", "restaurant", "cafe", "starbucks", "eatfit"}},
	{"groceries", []string{"bigbasket", "blinkit", "zepto", "grofers", "dmart", "jiomart", "grocery", "supermarket", "more retail"}},
	{"transport", []string{"uber", "ola", "rapido", "irctc", "metro", "fastag", "petrol", "fuel", "indian oil", "hpcl", "bpcl", "shell"}},
	{"travel", []string{"makemytrip", "goibibo", "indigo", "air india", "vistara", "cleartrip", "oyo", "hotel", "airbnb"}},
	{"utilities", []string{"electricity", "bescom", "tata power", "airtel", "jio", "vodafone", "vi recharge", "broadband", "gas", "water bill", "recharge"}},
	{"health", []string{"pharmacy", "apollo", "medplus", "1mg", "netmeds", "pharmeasy", "hospital", "clinic", "diagnostic"}},
	{"shopping", []string{"amazon", "flipkart", "myntra", "ajio", "nykaa", "meesho", "tatacliq", "croma", "reliance digital"}},
	{"rent", []string{"rent", "nobroker", "housing"}},
	{"education", []string{"school", "college", "university", "udemy", "coursera", "byju"}},
	{"insurance", []string{"insurance", "lic", "policybazaar"}},
}

// InferCategory returns a best-effort category for a merchant name. It never
// fails; unknown or missing merchants are Uncategorized.
func InferCategory(merchant *string) string {
	if merchant == nil {
		return Uncategorized
	}
	words := tokenize(*merchant)
	if len(words) == 0 {
		return Uncategorized
	}
	joined := " " + strings.Join(words, " ") + " "
	for _, rule := range categoryRules {
		for _, kw := range rule.keywords {
			if matchesKeyword(joined, kw) {
				return rule.category
			}
		}
	}
	return Uncategorized
}

// matchesKeyword matches multi-letter brand names as substrings ("swiggyinstamart")
// but requires short keywords to be whole words so "ola" does not hit "motorola".
func matchesKeyword(joined, kw string) bool {
	if len(kw) <= 4 {
		return strings.Contains(joined, " "+kw+" ")
	}
	return strings.Contains(joined, kw)
}

func tokenize(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '\'')
	})
}
