package email

import "strings"

// RedactEmail masks an address for logs, keeping the first character of the
// local part and the domain: "john@gmail.com" becomes "j***@gmail.com".
// Input without an "@" is masked entirely.
func RedactEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return ""
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "***"
	}
	if local == "" {
		return "***@" + domain
	}
	return local[:1] + "***@" + domain
}

// RedactAll applies RedactEmail to each address.
func RedactAll(addrs []string) []string {
	out := make([]string, len(addrs))
	for i, a := range addrs {
		out[i] = RedactEmail(a)
	}
	return out
}
