package model

import "strings"

// UnknownGateway is used when the topic carries no gateway segment.
const UnknownGateway = "unknown"

var separators = strings.NewReplacer(
	":", "",
	"-", "",
	".", "",
	"_", "",
	" ", "",
	"\t", "",
)

// Canonicalize lower-cases a hardware address and strips separator
// characters. It never fails; garbage in yields garbage (or "") out.
func Canonicalize(raw string) string {
	return strings.ToLower(separators.Replace(strings.TrimSpace(raw)))
}

// GatewayFromTopic returns the second "/" segment of topic, e.g.
// "GwData/AA11BB22CC33" -> "AA11BB22CC33".
func GatewayFromTopic(topic string) string {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || strings.TrimSpace(parts[1]) == "" {
		return UnknownGateway
	}
	return parts[1]
}
