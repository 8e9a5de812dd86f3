package ledger

import (
	"fmt"
	"strings"
)

// ParsedTransaction is a bank statement row as produced by a statement parser.
type ParsedTransaction struct {
	Date          string `json:"date"`
	ValueDate     string `json:"value_date,omitempty"`
	Description   string `json:"description"`
	Reference     string `json:"reference,omitempty"`
	AmountAgorot  *int64 `json:"amount_agorot"`
	BalanceAgorot *int64 `json:"balance_agorot,omitempty"`
}

// ParsedCreditCardTransaction is a credit-card statement row.
type ParsedCreditCardTransaction struct {
	Date            string `json:"date"`
	BillingDate     string `json:"billing_date,omitempty"`
	MerchantName    string `json:"merchant_name"`
	AmountAgorot    *int64 `json:"amount_agorot"`
	ForeignAmount   *int64 `json:"foreign_amount,omitempty"`
	ForeignCurrency string `json:"foreign_currency,omitempty"`
	CardLastFour    string `json:"card_last_four"`
	TransactionType string `json:"transaction_type,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

// ExtractedLineItem is a line item produced by document extraction, with
// amounts already normalized to minor units.
type ExtractedLineItem struct {
	Date        string `json:"date"`
	Description string `json:"description"`
	ReferenceID string `json:"reference_id,omitempty"`
	Amount      *int64 `json:"amount"`
	Currency    string `json:"currency"`
	VATRate     string `json:"vat_rate,omitempty"`
	VATAmount   *int64 `json:"vat_amount,omitempty"`
}

// ToTransaction validates a parsed bank row and converts it into an
// unsaved ledger transaction. The hash is not set.
func (p ParsedTransaction) ToTransaction(owner OwnerID, txType TransactionType) (*Transaction, error) {
	date, err := ParseDate(p.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date: %v", ErrInvalidInput, err)
	}
	if p.AmountAgorot == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidInput)
	}

	tx := &Transaction{
		OwnerID:     owner,
		Date:        date,
		Description: strings.TrimSpace(p.Description),
		Reference:   strings.TrimSpace(p.Reference),
		Amount:      *p.AmountAgorot,
		Balance:     p.BalanceAgorot,
		Type:        txType,
		MatchStatus: StatusUnmatched,
	}
	if p.ValueDate != "" {
		if vd, err := ParseDate(p.ValueDate); err == nil {
			tx.ValueDate = &vd
		}
	}
	return tx, nil
}

// ToTransaction validates a parsed card row and converts it into an unsaved
// cc_purchase transaction. The hash and credit card id are not set.
func (p ParsedCreditCardTransaction) ToTransaction(owner OwnerID) (*Transaction, error) {
	date, err := ParseDate(p.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date: %v", ErrInvalidInput, err)
	}
	if p.AmountAgorot == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidInput)
	}
	lastFour := strings.TrimSpace(p.CardLastFour)
	if !IsLastFour(lastFour) {
		return nil, fmt.Errorf("%w: card last four %q", ErrInvalidInput, p.CardLastFour)
	}

	tx := &Transaction{
		OwnerID:         owner,
		Date:            date,
		Description:     strings.TrimSpace(p.MerchantName),
		Amount:          *p.AmountAgorot,
		ForeignAmount:   p.ForeignAmount,
		ForeignCurrency: strings.ToUpper(strings.TrimSpace(p.ForeignCurrency)),
		Type:            TypeCCPurchase,
		CardLastFour:    lastFour,
		Notes:           strings.TrimSpace(p.Notes),
		MatchStatus:     StatusUnmatched,
	}
	if p.BillingDate != "" {
		if bd, err := ParseDate(p.BillingDate); err == nil {
			tx.ValueDate = &bd
		}
	}
	return tx, nil
}

// ToLineItem validates an extracted line item and converts it into an
// unsaved invoice line item.
func (e ExtractedLineItem) ToLineItem(owner OwnerID, invoiceID string) (*InvoiceLineItem, error) {
	date, err := ParseDate(e.Date)
	if err != nil {
		return nil, fmt.Errorf("%w: date: %v", ErrInvalidInput, err)
	}
	if e.Amount == nil {
		return nil, fmt.Errorf("%w: missing amount", ErrInvalidInput)
	}
	return &InvoiceLineItem{
		InvoiceID:       invoiceID,
		OwnerID:         owner,
		Description:     strings.TrimSpace(e.Description),
		ReferenceID:     strings.TrimSpace(e.ReferenceID),
		TransactionDate: date,
		Amount:          *e.Amount,
		Currency:        NormalizeCurrency(e.Currency),
		VATRate:         strings.TrimSpace(e.VATRate),
		VATAmount:       e.VATAmount,
	}, nil
}

// IsLastFour reports whether s is exactly four ASCII digits.
func IsLastFour(s string) bool {
	if len(s) != 4 {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// NormalizeCurrency upper-cases a currency code and maps the shekel sign.
func NormalizeCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	switch c {
	case "₪", "NIS":
		return "ILS"
	case "$":
		return "USD"
	case "€":
		return "EUR"
	}
	return c
}
