package feeds

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlain(t *testing.T) {
	body := `# Feodo Tracker
; spamhaus style comment

1.2.3.4
5.6.7.8 trailing tokens ignored
10.0.0.0/8
abc
2001:db8::1
   9.9.9.9   
`
	got, err := Parse(Source{Kind: KindPlain}, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.2.3.4", "5.6.7.8", "2001:db8::1", "9.9.9.9"}, got)
}

func TestParseScoredUsesStrictThreshold(t *testing.T) {
	body := `# IPsum
1.1.1.1	8
2.2.2.2	4
3.3.3.3	3
4.4.4.4	x
5.5.5.5
`
	got, err := Parse(Source{Kind: KindScored, Threshold: 3}, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2"}, got)
}

func TestParseCSV(t *testing.T) {
	body := `################################################################
# ThreatFox IOCs: ip:port                                       #
################################################################
# "first_seen_utc","ioc_id","ioc_value","ioc_type","threat_type"
"2024-01-01 00:00:00", "1", "198.51.100.7:443", "ip:port", "botnet_cc"
"2024-01-01 00:00:01", "2", "evil.example", "domain", "botnet_cc"
"2024-01-01 00:00:02", "3", "[2001:db8::5]:8080", "ip:port", "botnet_cc"
"2024-01-01 00:00:03", "4", "203.0.113.9", "ip:port", "payload_delivery"
"short"
`
	src := Source{Kind: KindCSV, TypeMarker: "ip:port", AddressColumn: 2}
	got, err := Parse(src, strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, []string{"198.51.100.7", "2001:db8::5", "203.0.113.9"}, got)
}

func TestStripPort(t *testing.T) {
	cases := map[string]string{
		"1.2.3.4:80":      "1.2.3.4",
		"1.2.3.4":         "1.2.3.4",
		"[2001:db8::1]:9": "2001:db8::1",
		"2001:db8::1":     "2001:db8::1",
		"[broken":         "",
	}
	for in, want := range cases {
		assert.Equal(t, want, stripPort(in), "stripPort(%q)", in)
	}
}

func TestParseUnknownKind(t *testing.T) {
	_, err := Parse(Source{Kind: "xml"}, strings.NewReader(""))
	assert.Error(t, err)
}
