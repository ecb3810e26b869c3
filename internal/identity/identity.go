// Package identity classifies inbound senders before any conversation
// processing happens.
package identity

import "strings"

// Class is the routing classification of a sender.
type Class string

const (
	ClassGroup    Class = "group"
	ClassOwner    Class = "owner"
	ClassExcluded Class = "excluded"
	ClassNormal   Class = "normal"
)

// groupSuffix is WhatsApp's group JID convention.
const groupSuffix = "@g.us"

// Classify determines how an inbound sender should be routed. Groups win over
// everything; owners win over exclusions. Owner and excluded entries match by
// substring containment so numbers may be configured with or without the
// transport domain suffix.
func Classify(sender string, isGroup bool, owners, excluded []string) Class {
	if isGroup || strings.HasSuffix(sender, groupSuffix) {
		return ClassGroup
	}
	if matchesAny(sender, owners) {
		return ClassOwner
	}
	if matchesAny(sender, excluded) {
		return ClassExcluded
	}
	return ClassNormal
}

func matchesAny(sender string, entries []string) bool {
	for _, entry := range entries {
		if entry == "" {
			continue
		}
		if strings.Contains(sender, entry) {
			return true
		}
	}
	return false
}

// LocalPart extracts the portion of a sender identifier preceding the
// transport domain suffix, e.g. "15551230001@s.whatsapp.net" -> "15551230001".
func LocalPart(sender string) string {
	if i := strings.IndexByte(sender, '@'); i >= 0 {
		return sender[:i]
	}
	return sender
}
