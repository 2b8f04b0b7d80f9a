package domain

type Severity string

const (
	SeverityClean  Severity = "clean"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	JudgmentAllowlist = "allowlist"
	JudgmentDenylist  = "permanent blacklist"
	JudgmentLocal     = "honeypot capture"
	JudgmentOSINT     = "osint feed"
)

// Verdict is the outcome of a reputation lookup. Judgments is never nil so it
// serialises as an empty list for clean addresses.
type Verdict struct {
	Severity  Severity `json:"severity"`
	Judgments []string `json:"judgments"`
}
