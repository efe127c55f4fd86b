package scan

import (
	"strconv"
	"strings"
	"time"

	"github.com/branchpos/branchpos-backend/internal/inventory/domain"
)

// groupSeparator is the ASCII GS that scanners emit for FNC1
const groupSeparator = '\x1d'

// Application identifiers read from GS1 element strings
const (
	aiGTIN   = "01"
	aiBatch  = "10"
	aiExpiry = "17"
	aiSerial = "21"
)

var fixedLength = map[string]int{
	aiGTIN:   14,
	aiExpiry: 6,
}

var variableMax = map[string]int{
	aiBatch:  20,
	aiSerial: 20,
}

var symbologyPrefixes = []string{"]C1", "]e0", "]d2", "]Q3"}

// Parse turns a raw scanner payload into a structured record. GS1 element
// strings yield GTIN, batch, expiry and serial; 8, 12 and 13 digit codes are
// retail barcodes; anything else is a plain code.
func Parse(raw string) domain.ScanRecord {
	payload := strings.TrimSpace(raw)
	rec := domain.ScanRecord{RawData: payload, Type: domain.ScanTypePlain}
	if payload == "" {
		return rec
	}

	body, symbology := stripSymbology(payload)
	switch {
	case strings.HasPrefix(body, "("):
		if parseParenthesised(body, &rec) {
			rec.Type = domain.ScanTypeGS1
			return rec
		}
	case symbology || looksLikeElementString(body):
		if parseElementString(body, &rec) {
			rec.Type = domain.ScanTypeGS1
			return rec
		}
	}

	rec = domain.ScanRecord{RawData: payload, Type: domain.ScanTypePlain}
	if isDigits(body) {
		switch len(body) {
		case 13:
			rec.GTIN, rec.Type = body, domain.ScanTypeEAN13
		case 12:
			rec.GTIN, rec.Type = body, domain.ScanTypeUPCA
		case 8:
			rec.GTIN, rec.Type = body, domain.ScanTypeEAN8
		case 14:
			rec.GTIN = body
		}
	}
	return rec
}

func stripSymbology(s string) (string, bool) {
	for _, p := range symbologyPrefixes {
		if strings.HasPrefix(s, p) {
			return strings.TrimPrefix(s, p), true
		}
	}
	if s != "" && s[0] == groupSeparator {
		return s[1:], true
	}
	return s, false
}

// looksLikeElementString accepts "01" followed by a 14 digit GTIN and at least
// one more element, so plain 14 digit codes are not misread.
func looksLikeElementString(s string) bool {
	return strings.HasPrefix(s, aiGTIN) && len(s) > 16 && isDigits(s[2:16])
}

func parseElementString(s string, rec *domain.ScanRecord) bool {
	found := false
	for len(s) > 0 {
		if s[0] == groupSeparator {
			s = s[1:]
			continue
		}
		if len(s) < 2 {
			return false
		}
		ai := s[:2]
		s = s[2:]

		var value string
		if n, ok := fixedLength[ai]; ok {
			if len(s) < n {
				return false
			}
			value, s = s[:n], s[n:]
		} else if n, ok := variableMax[ai]; ok {
			end := strings.IndexByte(s, groupSeparator)
			if end < 0 {
				end = len(s)
			}
			if end > n {
				return false
			}
			value, s = s[:end], s[end:]
		} else {
			return false
		}

		if !assign(ai, value, rec) {
			return false
		}
		found = true
	}
	return found
}

func parseParenthesised(s string, rec *domain.ScanRecord) bool {
	found := false
	for len(s) > 0 {
		if s[0] != '(' {
			return false
		}
		closeIdx := strings.IndexByte(s, ')')
		if closeIdx < 0 {
			return false
		}
		ai := s[1:closeIdx]
		s = s[closeIdx+1:]

		end := strings.IndexByte(s, '(')
		if end < 0 {
			end = len(s)
		}
		value := strings.TrimRight(s[:end], string(groupSeparator))
		s = s[end:]

		if n, ok := fixedLength[ai]; ok && len(value) != n {
			return false
		}
		if n, ok := variableMax[ai]; ok && (len(value) == 0 || len(value) > n) {
			return false
		}
		if !assign(ai, value, rec) {
			return false
		}
		found = true
	}
	return found
}

func assign(ai, value string, rec *domain.ScanRecord) bool {
	switch ai {
	case aiGTIN:
		if !isDigits(value) {
			return false
		}
		rec.GTIN = value
	case aiBatch:
		rec.BatchNumber = value
	case aiSerial:
		rec.SerialNumber = value
	case aiExpiry:
		d, ok := parseYYMMDD(value)
		if !ok {
			return false
		}
		rec.ExpiryDate = &d
	default:
		return false
	}
	return true
}

// parseYYMMDD reads a GS1 date. Day 00 means the last day of the month.
func parseYYMMDD(v string) (time.Time, bool) {
	if len(v) != 6 || !isDigits(v) {
		return time.Time{}, false
	}
	yy, _ := strconv.Atoi(v[0:2])
	mm, _ := strconv.Atoi(v[2:4])
	dd, _ := strconv.Atoi(v[4:6])
	if mm < 1 || mm > 12 || dd > 31 {
		return time.Time{}, false
	}
	year := 2000 + yy
	if dd == 0 {
		return time.Date(year, time.Month(mm)+1, 0, 0, 0, 0, 0, time.UTC), true
	}
	d := time.Date(year, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if d.Day() != dd {
		return time.Time{}, false
	}
	return d, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
