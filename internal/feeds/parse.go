package feeds

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const minAddressLength = 7

// Parse extracts candidate addresses from a feed body. Candidates are not yet
// validated as IP addresses; the recorder rejects those that do not parse.
func Parse(src Source, body io.Reader) ([]string, error) {
	switch src.Kind {
	case KindPlain:
		return parsePlain(body)
	case KindScored:
		return parseScored(body, src.Threshold)
	case KindCSV:
		return parseCSV(body, src.TypeMarker, src.AddressColumn)
	default:
		return nil, fmt.Errorf("unknown feed kind %q", src.Kind)
	}
}

// looksLikeAddress is the superficial plain-list filter: a separator, a
// minimum length and no network suffix.
func looksLikeAddress(token string) bool {
	if len(token) < minAddressLength {
		return false
	}
	if strings.Contains(token, "/") {
		return false
	}
	return strings.ContainsAny(token, ".:")
}

func isComment(line string) bool {
	return strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";")
}

func scanLines(body io.Reader, fn func(line string)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || isComment(line) {
			continue
		}
		fn(line)
	}
	return scanner.Err()
}

func parsePlain(body io.Reader) ([]string, error) {
	var out []string
	err := scanLines(body, func(line string) {
		token := strings.Fields(line)[0]
		if looksLikeAddress(token) {
			out = append(out, token)
		}
	})
	return out, err
}

func parseScored(body io.Reader, threshold float64) ([]string, error) {
	var out []string
	err := scanLines(body, func(line string) {
		fields := strings.Fields(line)
		if len(fields) < 2 {
			return
		}
		score, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			return
		}
		if score > threshold {
			out = append(out, fields[0])
		}
	})
	return out, err
}

func parseCSV(body io.Reader, marker string, column int) ([]string, error) {
	reader := csv.NewReader(body)
	reader.Comment = '#'
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true

	var out []string
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("csv: %w", err)
		}
		if column >= len(record) {
			continue
		}
		if marker != "" && !hasField(record, marker) {
			continue
		}
		if addr := stripPort(strings.TrimSpace(record[column])); addr != "" {
			out = append(out, addr)
		}
	}
}

func hasField(record []string, want string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) == want {
			return true
		}
	}
	return false
}

// stripPort removes a trailing :port from "host:port" and "[v6]:port". A
// bare IPv6 address is returned unchanged.
func stripPort(value string) string {
	if strings.HasPrefix(value, "[") {
		if end := strings.Index(value, "]"); end > 0 {
			return value[1:end]
		}
		return ""
	}
	if strings.Count(value, ":") == 1 {
		return value[:strings.IndexByte(value, ':')]
	}
	return value
}
