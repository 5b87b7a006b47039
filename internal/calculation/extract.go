package calculation

import (
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

var (
	// 60/40, 60:40, 60%/40%, 0.6/0.4, 50/30/20
	ratioRe = regexp.MustCompile(`\d+(?:\.\d+)?\s*%?(?:\s*[/:]\s*\d+(?:\.\d+)?\s*%?)+`)

	// $100,000, 100k, 1.5 million, USD 2,000.50
	amountRe = regexp.MustCompile(`(?i)(\$|usd\s*)?(\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?)(\s*(?:thousand|million|billion|bn|mn|k|m)\b)?(\s*%)?`)

	ratioSepRe = regexp.MustCompile(`[/:]`)
)

var multipliers = map[string]float64{
	"k":        1e3,
	"thousand": 1e3,
	"m":        1e6,
	"mn":       1e6,
	"million":  1e6,
	"bn":       1e9,
	"billion":  1e9,
}

// extract pulls whatever inputs it can find from free text.
func (e *Engine) extract(query string) inputs {
	in := inputs{formula: -1}

	padded := " " + normalise(query) + " "
	for _, a := range e.aliases {
		if strings.Contains(padded, " "+a.phrase+" ") {
			in.formula = a.formula
			break
		}
	}

	rest := query
	if loc := ratioRe.FindStringIndex(query); loc != nil {
		in.ratio = parseRatio(query[loc[0]:loc[1]])
		rest = query[:loc[0]] + " " + query[loc[1]:]
	}

	if amount, ok := parseAmount(rest); ok {
		if strings.Contains(padded, " loss ") || strings.Contains(padded, " losses ") {
			if !strings.Contains(padded, " profit ") {
				amount = -amount
			}
		}
		in.amount = &amount
	}
	return in
}

func parseRatio(s string) []float64 {
	var parts []float64
	for _, p := range ratioSepRe.Split(s, -1) {
		p = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(p), "%"))
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil
		}
		parts = append(parts, v)
	}
	return parts
}

// parseAmount returns the first currency-marked or scaled number in s,
// falling back to the largest plain number. Percentages are never amounts.
func parseAmount(s string) (float64, bool) {
	var (
		best  float64
		found bool
	)
	for _, m := range amountRe.FindAllStringSubmatch(s, -1) {
		if strings.TrimSpace(m[4]) == "%" {
			continue
		}
		v, err := strconv.ParseFloat(strings.ReplaceAll(m[2], ",", ""), 64)
		if err != nil {
			continue
		}
		suffix := strings.ToLower(strings.TrimSpace(m[3]))
		if suffix != "" {
			v *= multipliers[suffix]
		}
		if m[1] != "" || suffix != "" {
			return v, true
		}
		if !found || v > best {
			best, found = v, true
		}
	}
	return best, found
}

// FormatNumber renders v with thousands separators and at most two decimals.
func FormatNumber(v float64) string {
	s := strconv.FormatFloat(v, 'f', 2, 64)
	s = strings.TrimRight(strings.TrimRight(s, "0"), ".")

	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	if neg && s != "0" {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// normalise lowercases s and collapses every run of non-alphanumerics into
// one space.
func normalise(s string) string {
	var b strings.Builder
	space := true
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			space = false
			continue
		}
		if !space {
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
