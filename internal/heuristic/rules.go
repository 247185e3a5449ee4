package heuristic

// Rule is one entry of the confusable-pattern table. Terminal rules name a
// brand's legitimate domain; a host equal to it (or a subdomain of it)
// short-circuits the check as not suspicious.
type Rule struct {
	Pattern  string
	Score    int
	Brand    string
	Reason   string
	Terminal bool
}

type Brand struct {
	Key  string
	Name string
}

func DefaultBrands() []Brand {
	return []Brand{
		{Key: "microsoft", Name: "Microsoft"},
		{Key: "google", Name: "Google"},
		{Key: "paypal", Name: "PayPal"},
		{Key: "amazon", Name: "Amazon"},
		{Key: "facebook", Name: "Facebook"},
		{Key: "apple", Name: "Apple"},
		{Key: "netflix", Name: "Netflix"},
		{Key: "chase", Name: "Chase"},
		{Key: "wellsfargo", Name: "Wells Fargo"},
		{Key: "bankofamerica", Name: "Bank of America"},
		{Key: "instagram", Name: "Instagram"},
		{Key: "linkedin", Name: "LinkedIn"},
		{Key: "twitter", Name: "Twitter"},
		{Key: "github", Name: "GitHub"},
		{Key: "yahoo", Name: "Yahoo"},
		{Key: "gmail", Name: "Gmail"},
		{Key: "outlook", Name: "Outlook"},
		{Key: "ebay", Name: "eBay"},
	}
}

const (
	reasonDigit   = "digit substituted for a letter"
	reasonDigits  = "multiple digits substituted for letters"
	reasonRN      = "'rn' used to imitate 'm'"
	reasonDoubled = "doubled or dropped letter"
	reasonHyphen  = "hyphen inserted into brand name"
	reasonLetter  = "look-alike letter substitution"
	reasonCombo   = "brand name combined with a service keyword"
)

func DefaultRules() []Rule {
	return []Rule{
		{Pattern: "microsoft.com", Brand: "Microsoft", Terminal: true},
		{Pattern: "microsoftonline.com", Brand: "Microsoft", Terminal: true},
		{Pattern: "live.com", Brand: "Microsoft", Terminal: true},
		{Pattern: "office.com", Brand: "Microsoft", Terminal: true},
		{Pattern: "google.com", Brand: "Google", Terminal: true},
		{Pattern: "youtube.com", Brand: "Google", Terminal: true},
		{Pattern: "paypal.com", Brand: "PayPal", Terminal: true},
		{Pattern: "amazon.com", Brand: "Amazon", Terminal: true},
		{Pattern: "facebook.com", Brand: "Facebook", Terminal: true},
		{Pattern: "apple.com", Brand: "Apple", Terminal: true},
		{Pattern: "netflix.com", Brand: "Netflix", Terminal: true},
		{Pattern: "chase.com", Brand: "Chase", Terminal: true},
		{Pattern: "wellsfargo.com", Brand: "Wells Fargo", Terminal: true},
		{Pattern: "bankofamerica.com", Brand: "Bank of America", Terminal: true},
		{Pattern: "instagram.com", Brand: "Instagram", Terminal: true},
		{Pattern: "linkedin.com", Brand: "LinkedIn", Terminal: true},
		{Pattern: "twitter.com", Brand: "Twitter", Terminal: true},
		{Pattern: "github.com", Brand: "GitHub", Terminal: true},
		{Pattern: "yahoo.com", Brand: "Yahoo", Terminal: true},
		{Pattern: "gmail.com", Brand: "Gmail", Terminal: true},
		{Pattern: "outlook.com", Brand: "Outlook", Terminal: true},
		{Pattern: "ebay.com", Brand: "eBay", Terminal: true},

		{Pattern: "micr0s0ft", Score: 95, Brand: "Microsoft", Reason: reasonDigits},
		{Pattern: "rnicrosoft", Score: 95, Brand: "Microsoft", Reason: reasonRN},
		{Pattern: "micr0soft", Score: 90, Brand: "Microsoft", Reason: reasonDigit},
		{Pattern: "micros0ft", Score: 90, Brand: "Microsoft", Reason: reasonDigit},
		{Pattern: "mlcrosoft", Score: 85, Brand: "Microsoft", Reason: reasonLetter},
		{Pattern: "micro-soft", Score: 80, Brand: "Microsoft", Reason: reasonHyphen},
		{Pattern: "microsfot", Score: 75, Brand: "Microsoft", Reason: reasonDoubled},

		{Pattern: "g00g1e", Score: 95, Brand: "Google", Reason: reasonDigits},
		{Pattern: "g00gle", Score: 90, Brand: "Google", Reason: reasonDigits},
		{Pattern: "go0gle", Score: 85, Brand: "Google", Reason: reasonDigit},
		{Pattern: "g0ogle", Score: 85, Brand: "Google", Reason: reasonDigit},
		{Pattern: "goog1e", Score: 85, Brand: "Google", Reason: reasonDigit},
		{Pattern: "gooogle", Score: 80, Brand: "Google", Reason: reasonDoubled},

		{Pattern: "paypa1", Score: 90, Brand: "PayPal", Reason: reasonDigit},
		{Pattern: "paypall", Score: 85, Brand: "PayPal", Reason: reasonDoubled},
		{Pattern: "pay-pal", Score: 80, Brand: "PayPal", Reason: reasonHyphen},
		{Pattern: "paypai", Score: 80, Brand: "PayPal", Reason: reasonLetter},

		{Pattern: "arnazon", Score: 90, Brand: "Amazon", Reason: reasonRN},
		{Pattern: "amaz0n", Score: 90, Brand: "Amazon", Reason: reasonDigit},
		{Pattern: "amazn", Score: 75, Brand: "Amazon", Reason: reasonDoubled},
		{Pattern: "amzon", Score: 75, Brand: "Amazon", Reason: reasonDoubled},

		{Pattern: "faceb00k", Score: 90, Brand: "Facebook", Reason: reasonDigits},
		{Pattern: "faceb0ok", Score: 85, Brand: "Facebook", Reason: reasonDigit},
		{Pattern: "face-book", Score: 80, Brand: "Facebook", Reason: reasonHyphen},

		{Pattern: "app1e", Score: 90, Brand: "Apple", Reason: reasonDigit},
		{Pattern: "appple", Score: 80, Brand: "Apple", Reason: reasonDoubled},

		{Pattern: "netfl1x", Score: 90, Brand: "Netflix", Reason: reasonDigit},
		{Pattern: "netfllx", Score: 85, Brand: "Netflix", Reason: reasonLetter},
		{Pattern: "net-flix", Score: 75, Brand: "Netflix", Reason: reasonHyphen},

		{Pattern: "chase0nline", Score: 85, Brand: "Chase", Reason: reasonDigit},
		{Pattern: "chase-bank", Score: 70, Brand: "Chase", Reason: reasonCombo},

		{Pattern: "we11sfargo", Score: 90, Brand: "Wells Fargo", Reason: reasonDigits},
		{Pattern: "wellsfarg0", Score: 90, Brand: "Wells Fargo", Reason: reasonDigit},
		{Pattern: "wells-fargo", Score: 75, Brand: "Wells Fargo", Reason: reasonHyphen},

		{Pattern: "bank0famerica", Score: 90, Brand: "Bank of America", Reason: reasonDigit},
		{Pattern: "bankofamerica-", Score: 75, Brand: "Bank of America", Reason: reasonCombo},

		{Pattern: "instagrarn", Score: 90, Brand: "Instagram", Reason: reasonRN},
		{Pattern: "1nstagram", Score: 85, Brand: "Instagram", Reason: reasonDigit},

		{Pattern: "linked1n", Score: 90, Brand: "LinkedIn", Reason: reasonDigit},
		{Pattern: "linkedln", Score: 85, Brand: "LinkedIn", Reason: reasonLetter},

		{Pattern: "tw1tter", Score: 90, Brand: "Twitter", Reason: reasonDigit},
		{Pattern: "twltter", Score: 85, Brand: "Twitter", Reason: reasonLetter},

		{Pattern: "g1thub", Score: 85, Brand: "GitHub", Reason: reasonDigit},
		{Pattern: "gitbub", Score: 80, Brand: "GitHub", Reason: reasonLetter},

		{Pattern: "yah00", Score: 90, Brand: "Yahoo", Reason: reasonDigits},
		{Pattern: "yaho0", Score: 85, Brand: "Yahoo", Reason: reasonDigit},
		{Pattern: "yah0o", Score: 85, Brand: "Yahoo", Reason: reasonDigit},

		{Pattern: "grnail", Score: 90, Brand: "Gmail", Reason: reasonRN},
		{Pattern: "gma1l", Score: 90, Brand: "Gmail", Reason: reasonDigit},

		{Pattern: "outl00k", Score: 90, Brand: "Outlook", Reason: reasonDigits},
		{Pattern: "0utlook", Score: 90, Brand: "Outlook", Reason: reasonDigit},
	}
}
