package config

import "net/url"

// Redacted returns a copy of c with sensitive fields replaced by the
// redaction placeholder "***". Use this when logging or printing the active
// configuration so secrets are never accidentally exposed.
func (c *Config) Redacted() Config {
	out := *c

	out.Postgres.DSN = redactURL(c.Postgres.DSN)
	redact(&out.Postgres.Password)
	redact(&out.Redis.Password)
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)
	redact(&out.Server.APIKey)
	redact(&out.Venues.Kalshi.APIKey)
	redact(&out.Embedding.APIKey)
	redact(&out.Amp.APIKey)
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if c.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), c.Notify.Events...)
	}
	if c.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), c.Server.CORSOrigins...)
	}
	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}

// redactURL keeps a connection URL readable but masks its password. Values
// that do not parse as URLs are redacted entirely.
func redactURL(s string) string {
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return redacted
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), redacted)
	}
	return u.String()
}
