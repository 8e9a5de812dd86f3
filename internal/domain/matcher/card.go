package matcher

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/eshaffer321/vat-reconcile/internal/domain/ledger"
)

// cardTokens and cardPhrases mark a bank row as a card settlement charge.
var cardTokens = map[string]bool{
	"visa": true, "mastercard": true, "isracard": true, "amex": true, "diners": true,
	"cal": true, "max": true, "card": true,
	"ישראכרט": true, "ויזה": true, "כרטיס": true, "כאל": true, "מקס": true, "דיינרס": true,
}

var cardPhrases = []string{
	"master card", "american express", "leumi card", "credit card",
	"אמריקן אקספרס", "לאומי קארד",
}

var digitRun = regexp.MustCompile(`\d+`)

// HasCardKeyword reports whether description names a card issuer or network.
func HasCardKeyword(description string) bool {
	lower := strings.ToLower(description)
	for _, phrase := range cardPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	tokens := strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if cardTokens[tok] {
			return true
		}
	}
	return false
}

// ExtractLastFour returns the first run of exactly four digits in description.
func ExtractLastFour(description string) (string, bool) {
	for _, run := range digitRun.FindAllString(description, -1) {
		if len(run) == 4 {
			return run, true
		}
	}
	return "", false
}

// BankCardLastFour derives the card a bank row settles. Rows already
// classified as card charges need no keyword.
func BankCardLastFour(tx *ledger.Transaction) (string, bool) {
	if !tx.Type.IsBank() {
		return "", false
	}
	if tx.Type != ledger.TypeBankCCCharge && !HasCardKeyword(tx.Description) {
		return "", false
	}
	return ExtractLastFour(tx.Description + " " + tx.Reference)
}

// ClassifyBankRow returns TypeBankCCCharge for a card settlement description
// that carries a card number and TypeBankRegular otherwise.
func ClassifyBankRow(description string) ledger.TransactionType {
	if HasCardKeyword(description) {
		if _, ok := ExtractLastFour(description); ok {
			return ledger.TypeBankCCCharge
		}
	}
	return ledger.TypeBankRegular
}
