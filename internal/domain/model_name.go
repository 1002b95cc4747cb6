package domain

import "strings"

// NormalizeModelName reduces a reasoning model identifier to its family name
// for the ledger: "gpt://<folder>/yandexgpt/rc" becomes "yandexgpt" and
// router prefixes such as "openai/gpt-4o" become "gpt-4o".
func NormalizeModelName(model string) string {
	name := strings.TrimSpace(model)
	if idx := strings.Index(name, "gpt://"); idx >= 0 {
		parts := strings.Split(name[idx+len("gpt://"):], "/")
		if len(parts) >= 2 {
			return parts[1]
		}
		return name
	}
	if idx := strings.LastIndex(name, "/"); idx >= 0 && idx < len(name)-1 {
		return name[idx+1:]
	}
	return name
}
