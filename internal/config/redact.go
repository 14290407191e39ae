package config

import (
	"net/url"
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

var secretRules = []struct {
	re    *regexp.Regexp
	label string
}{
	// key=value connection strings: host=db password=hunter2
	{re: regexp.MustCompile(`(?i)\b(password|passwd|pwd|token|secret)\s*=\s*('[^']*'|"[^"]*"|[^\s&]+)`), label: "$1=" + redacted},
	{re: regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]+=*`), label: "Bearer " + redacted},
}

// RedactSecret masks credentials embedded in a DSN or URL while keeping the
// host and database visible.
func RedactSecret(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	if parsed, err := url.Parse(value); err == nil && parsed.Scheme != "" && parsed.User != nil {
		if _, hasPassword := parsed.User.Password(); hasPassword {
			parsed.User = url.UserPassword(parsed.User.Username(), "xxxxx")
			value = parsed.String()
		}
	}
	for _, rule := range secretRules {
		value = rule.re.ReplaceAllString(value, rule.label)
	}
	return value
}

// Redacted returns the effective configuration as log attributes with
// credentials masked.
func (c Config) Redacted() map[string]any {
	token := ""
	if c.Auth.Token != "" {
		token = redacted
	}
	return map[string]any{
		"grpc.addr":                c.GRPC.Addr,
		"grpc.reflection":          c.GRPC.Reflection,
		"http.addr":                c.HTTP.Addr,
		"store.driver":             c.Store.Driver,
		"store.data_file":          c.Store.DataFile,
		"store.database_url":       RedactSecret(c.Store.DatabaseURL),
		"store.sqlite_path":        c.Store.SQLitePath,
		"auth.token":               token,
		"auth.identities":          len(c.Auth.Identities),
		"platform.owner":           c.Platform.Owner,
		"platform.fee_percentage":  c.Platform.FeePercentage,
		"platform.transfer_policy": c.Platform.TransferPolicy,
		"ledger.escrow_account":    c.Ledger.EscrowAccount,
		"ledger.faucet":            c.Ledger.Faucet,
		"events.sink":              c.Events.Sink,
		"events.nats_url":          RedactSecret(c.Events.NATSURL),
		"events.subject_prefix":    c.Events.SubjectPrefix,
		"log.level":                c.Log.Level,
		"log.format":               c.Log.Format,
		"telemetry.exporter":       c.Telemetry.Exporter,
		"telemetry.otlp_endpoint":  c.Telemetry.OTLPEndpoint,
	}
}
