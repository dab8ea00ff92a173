package format

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	seqPadRe   = regexp.MustCompile(`\{SEQ(\d+)\}`)
	regiePadRe = regexp.MustCompile(`\{REGIE(\d+)\}`)
)

const (
	DefaultCounterName   = "{YY}"
	DefaultInvoiceFormat = "F{REGIE2}-{YY}-{MM}-{SEQ7}"
	DefaultCreditFormat  = "A{REGIE2}-{YY}-{MM}-{SEQ7}"
	DefaultPaymentFormat = "R{REGIE2}-{YY}-{MM}-{SEQ7}"
	DefaultRefundFormat  = "V{REGIE2}-{YY}-{MM}-{SEQ7}"
)

// FormatNumber renders a document number from a regie template.
//
// Tokens: {YYYY} {YY} {MM} {DD} for the allocation date, {SEQ} / {SEQn}
// for the counter value and {REGIE} / {REGIEn} for the regie short id,
// n being a zero padded width. The function is pure.
func FormatNumber(template string, at time.Time, regieShortID int, seq int64) (string, error) {
	if template == "" {
		return "", fmt.Errorf("number template is empty")
	}
	if seq <= 0 {
		return "", fmt.Errorf("invalid sequence: %d", seq)
	}

	out := replaceDateTokens(template, at)
	out = strings.ReplaceAll(out, "{SEQ}", strconv.FormatInt(seq, 10))
	out = replacePadded(out, seqPadRe, seq)
	out = strings.ReplaceAll(out, "{REGIE}", strconv.Itoa(regieShortID))
	out = replacePadded(out, regiePadRe, int64(regieShortID))

	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in number format: %s", out)
	}
	return out, nil
}

// CounterName renders the period key of a counter, e.g. "{YY}" gives "24".
// Only date tokens are allowed.
func CounterName(template string, at time.Time) (string, error) {
	if template == "" {
		template = DefaultCounterName
	}
	out := replaceDateTokens(template, at)
	if strings.ContainsAny(out, "{}") {
		return "", fmt.Errorf("unresolved token in counter name: %s", out)
	}
	return out, nil
}

// Validate checks that a template renders with sample values.
func Validate(template string) error {
	_, err := FormatNumber(template, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), 1, 1)
	return err
}

func replaceDateTokens(s string, at time.Time) string {
	s = strings.ReplaceAll(s, "{YYYY}", at.Format("2006"))
	s = strings.ReplaceAll(s, "{YY}", at.Format("06"))
	s = strings.ReplaceAll(s, "{MM}", at.Format("01"))
	s = strings.ReplaceAll(s, "{DD}", at.Format("02"))
	return s
}

func replacePadded(s string, re *regexp.Regexp, value int64) string {
	return re.ReplaceAllStringFunc(s, func(m string) string {
		match := re.FindStringSubmatch(m)
		if len(match) != 2 {
			return m
		}
		width, err := strconv.Atoi(match[1])
		if err != nil || width <= 0 {
			return m
		}
		return fmt.Sprintf("%0*d", width, value)
	})
}
