// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package query

import "github.com/bureau-foundation/statesync/lib/schema/playerdata"

// MessageType is the "_wsType" discriminator carried by every message.
type MessageType string

const (
	// TypeUsernameChanged is pushed on connect and whenever the
	// logged-in identity changes.
	TypeUsernameChanged MessageType = "UsernameChanged"

	// TypeGetPlayer is both the request for a full snapshot and its
	// response.
	TypeGetPlayer MessageType = "GetPlayer"
)

// Request is an inbound client message.
type Request struct {
	Type       MessageType `json:"_wsType"`
	SequenceID int         `json:"sequenceId"`
}

// UsernameChanged announces the current identity. Username is omitted
// while logged out.
type UsernameChanged struct {
	Type     MessageType `json:"_wsType"`
	Username string      `json:"username,omitempty"`
}

// GetPlayerResponse answers a GetPlayer request with the full current
// snapshot. SequenceID echoes the request's.
type GetPlayerResponse struct {
	Type       MessageType     `json:"_wsType"`
	SequenceID int             `json:"sequenceId"`
	Payload    playerdata.Data `json:"payload"`
}
