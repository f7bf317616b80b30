package util

import (
	"net/mail"
	"strings"
)

// SenderKey reduces a From header to the canonical address used to attribute
// storage to a sender: RFC 5322 parse, lowercased, +alias stripped from the
// local part. Dots in the local part are kept so addresses on providers that
// treat them as significant don't collapse together.
// Returns "" when no address can be extracted.
func SenderKey(fromHeader string) string {
	addr := firstAddress(fromHeader)
	if addr == "" {
		return ""
	}
	at := strings.LastIndexByte(addr, '@')
	if at <= 0 {
		return addr
	}
	local, domain := addr[:at], addr[at+1:]
	if plus := strings.IndexByte(local, '+'); plus >= 0 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// firstAddress parses a From header that may hold a single mailbox or a
// comma-separated list, returning the first parsable address lowercased.
func firstAddress(header string) string {
	header = strings.TrimSpace(header)
	if header == "" {
		return ""
	}
	if a, err := mail.ParseAddress(header); err == nil && a != nil {
		return strings.ToLower(strings.TrimSpace(a.Address))
	}
	for _, part := range strings.Split(header, ",") {
		if a, err := mail.ParseAddress(strings.TrimSpace(part)); err == nil && a != nil {
			return strings.ToLower(strings.TrimSpace(a.Address))
		}
	}
	return ""
}
