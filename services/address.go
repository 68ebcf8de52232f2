package services

import (
	"regexp"
	"strings"
	"unicode"

	"property-collector/models"
)

var (
	// unitRegexp captures "apt 4b", "unit #12", "suite 300", "ste. 5", "#7"
	unitRegexp = regexp.MustCompile(`(?i)(?:\b(?:apt|apartment|unit|suite|ste)\b\.?\s*#?|#)\s*([a-z0-9][a-z0-9-]*)`)
	// zipRegexp captures the first 5-digit ZIP
	zipRegexp = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
)

var streetAbbreviations = map[string]string{
	"street":    "st",
	"str":       "st",
	"avenue":    "ave",
	"av":        "ave",
	"boulevard": "blvd",
	"drive":     "dr",
	"road":      "rd",
	"lane":      "ln",
	"court":     "ct",
	"place":     "pl",
	"terrace":   "ter",
	"circle":    "cir",
	"parkway":   "pkwy",
	"highway":   "hwy",
	"square":    "sq",
	"trail":     "trl",
	"north":     "n",
	"south":     "s",
	"east":      "e",
	"west":      "w",
	"northeast": "ne",
	"northwest": "nw",
	"southeast": "se",
	"southwest": "sw",
}

var stateAbbreviations = map[string]string{
	"alabama": "AL", "alaska": "AK", "arizona": "AZ", "arkansas": "AR",
	"california": "CA", "colorado": "CO", "connecticut": "CT", "delaware": "DE",
	"district of columbia": "DC", "florida": "FL", "georgia": "GA", "hawaii": "HI", "idaho": "ID",
	"illinois": "IL", "indiana": "IN", "iowa": "IA", "kansas": "KS",
	"kentucky": "KY", "louisiana": "LA", "maine": "ME", "maryland": "MD",
	"massachusetts": "MA", "michigan": "MI", "minnesota": "MN", "mississippi": "MS",
	"missouri": "MO", "montana": "MT", "nebraska": "NE", "nevada": "NV",
	"new hampshire": "NH", "new jersey": "NJ", "new mexico": "NM", "new york": "NY",
	"north carolina": "NC", "north dakota": "ND", "ohio": "OH", "oklahoma": "OK",
	"oregon": "OR", "pennsylvania": "PA", "rhode island": "RI", "south carolina": "SC",
	"south dakota": "SD", "tennessee": "TN", "texas": "TX", "utah": "UT",
	"vermont": "VT", "virginia": "VA", "washington": "WA", "west virginia": "WV",
	"wisconsin": "WI", "wyoming": "WY",
}

var validStates = func() map[string]struct{} {
	m := make(map[string]struct{}, len(stateAbbreviations))
	for _, code := range stateAbbreviations {
		m[code] = struct{}{}
	}
	return m
}()

// StandardizeAddress builds the canonical address used for matching.
// Standardized has the form "123 n main st apt 4, springfield, IL"; the ZIP
// is kept separately because sources disagree on whether they report it.
func StandardizeAddress(line, city, state, zip string) models.Address {
	var unit string
	if m := unitRegexp.FindStringSubmatchIndex(line); m != nil {
		unit = strings.ToLower(line[m[2]:m[3]])
		line = line[:m[0]] + " " + line[m[1]:]
	}

	tokens := addressTokens(line)
	addr := models.Address{
		Unit:  unit,
		City:  normaliseCity(city),
		State: normaliseState(state),
		Zip:   normaliseZip(zip),
	}
	if len(tokens) > 0 && startsWithDigit(tokens[0]) {
		addr.Number = tokens[0]
		tokens = tokens[1:]
	}
	addr.Street = strings.Join(tokens, " ")

	var b strings.Builder
	if addr.Number != "" {
		b.WriteString(addr.Number)
	}
	if addr.Street != "" {
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(addr.Street)
	}
	if unit != "" {
		b.WriteString(" apt ")
		b.WriteString(unit)
	}
	b.WriteString(", ")
	b.WriteString(strings.ToLower(addr.City))
	b.WriteString(", ")
	b.WriteString(addr.State)
	addr.Standardized = b.String()
	return addr
}

// addressTokens case-folds, strips punctuation and abbreviates street types
// and directionals.
func addressTokens(line string) []string {
	line = strings.ToLower(line)
	line = strings.ReplaceAll(line, ".", "")
	line = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' {
			return r
		}
		return ' '
	}, line)

	fields := strings.Fields(line)
	for i, f := range fields {
		if abbr, ok := streetAbbreviations[f]; ok {
			fields[i] = abbr
		}
	}
	return fields
}

func startsWithDigit(s string) bool {
	return s != "" && s[0] >= '0' && s[0] <= '9'
}

func normaliseCity(city string) string {
	fields := strings.Fields(strings.ToLower(city))
	for i, f := range fields {
		r := []rune(f)
		r[0] = unicode.ToUpper(r[0])
		fields[i] = string(r)
	}
	return strings.Join(fields, " ")
}

// normaliseState maps a state name or code to its USPS code.
func normaliseState(state string) string {
	s := strings.ToLower(normaliseText(state))
	if s == "" {
		return ""
	}
	if len(s) == 2 {
		if _, ok := validStates[strings.ToUpper(s)]; ok {
			return strings.ToUpper(s)
		}
	}
	if code, ok := stateAbbreviations[s]; ok {
		return code
	}
	upper := strings.ToUpper(s)
	if len(upper) > 2 {
		upper = upper[:2]
	}
	return upper
}

func normaliseZip(zip string) string {
	if m := zipRegexp.FindStringSubmatch(zip); m != nil {
		return m[1]
	}
	return ""
}

// splitFullAddress splits "1 Pine St, San Francisco, CA 94109" into its
// street line, city, state and ZIP. Missing parts are returned empty.
func splitFullAddress(full string) (line, city, state, zip string) {
	parts := strings.Split(full, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	line = parts[0]
	if len(parts) >= 3 {
		city = parts[len(parts)-2]
		tail := strings.Fields(parts[len(parts)-1])
		if len(tail) > 0 {
			state = tail[0]
		}
		if len(tail) > 1 {
			zip = tail[1]
		}
	} else if len(parts) == 2 {
		city = parts[1]
	}
	return line, city, state, zip
}
