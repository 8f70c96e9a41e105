package models

import "strings"

const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// NormalizeDirection maps free-form input to the direction vocabulary.
// Anything unrecognized counts as inbound; history scans see both sides
// of a conversation and only the local account's own sends are outbound.
func NormalizeDirection(raw string) string {
	switch strings.TrimSpace(strings.ToLower(raw)) {
	case DirectionOutbound:
		return DirectionOutbound
	default:
		return DirectionInbound
	}
}

// DirectionFor derives a message's direction from its sender and the
// local account address.
func DirectionFor(from, localAccount string) string {
	if from != "" && from == localAccount {
		return DirectionOutbound
	}
	return DirectionInbound
}
