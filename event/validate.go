// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package event

import (
	"crypto/ed25519"
	"errors"
	"fmt"

	"github.com/bureau-foundation/roomstate/lib/ref"
)

// ValidationKind classifies permanent validation failures. Every kind
// is terminal: the event is discarded and never retried.
type ValidationKind string

// Validation failure kinds, in check order.
const (
	// BadSchema: a required field is missing or malformed for the
	// room version and event type.
	BadSchema ValidationKind = "bad_schema"

	// Oversized: the encoded event exceeds the room version's size
	// limit.
	Oversized ValidationKind = "oversized"

	// BadHash: the content hash does not match the claimed event ID.
	BadHash ValidationKind = "bad_hash"

	// BadSignature: a signature is absent or does not verify against
	// the signing server's known key.
	BadSignature ValidationKind = "bad_signature"

	// MissingAuthBasis: a non-create event with empty prev_events or
	// auth_events.
	MissingAuthBasis ValidationKind = "missing_auth_basis"
)

// ValidationError is a permanent rejection from the Validator. The
// event must be discarded, never retried — re-validating the same
// bytes always fails the same way.
type ValidationError struct {
	Kind    ValidationKind
	EventID ref.EventID // zero when the failure precedes ID parsing
	Message string
}

func (e *ValidationError) Error() string {
	if e.EventID.IsZero() {
		return fmt.Sprintf("event validation (%s): %s", e.Kind, e.Message)
	}
	return fmt.Sprintf("event %s validation (%s): %s", e.EventID, e.Kind, e.Message)
}

// IsValidationError reports whether err is a ValidationError of the
// given kind.
func IsValidationError(err error, kind ValidationKind) bool {
	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return validationErr.Kind == kind
	}
	return false
}

// MissingKeyError reports that a signature could not be checked
// because the signing server's public key is not yet known. Unlike a
// ValidationError this is transient: the federation layer fetches the
// key and the caller retries validation with the same bytes.
type MissingKeyError struct {
	Server ref.ServerName
	KeyID  string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("signing key %s/%s is not known yet", e.Server, e.KeyID)
}

// ErrKeyNotFound is returned by KeyProvider implementations when the
// requested key is not in the local key store. The Validator converts
// it to a MissingKeyError carrying the server and key ID.
var ErrKeyNotFound = errors.New("signing key not found")

// KeyProvider supplies the currently known Ed25519 public keys of
// federation servers. Implementations return ErrKeyNotFound (possibly
// wrapped) for keys that have not been fetched yet.
type KeyProvider interface {
	PublicKey(server ref.ServerName, keyID string) (ed25519.PublicKey, error)
}

// Validator is the structural and cryptographic gatekeeper for
// inbound events. It is purely functional: no store access, no
// mutation, same bytes in means same verdict out.
type Validator struct {
	// Keys resolves signing server public keys.
	Keys KeyProvider
}

// Validate applies the room version's checks to a raw encoded event,
// in order, short-circuiting on the first failure:
//
//	(a) required-field presence for the event type
//	(b) encoded size within the version's limit
//	(c) content hash matches the claimed event ID
//	(d) every signature verifies against the signer's known key
//	(e) prev_events and auth_events non-empty for non-create events
//
// Failures (a)–(e) return *ValidationError and are permanent. A
// failure because a signer's key is not yet known returns
// *MissingKeyError instead and is retryable once the key arrives.
func (v *Validator) Validate(version RoomVersion, raw []byte) (*Event, error) {
	params, err := Params(version)
	if err != nil {
		return nil, err
	}

	ev, err := Decode(raw)
	if err != nil {
		return nil, &ValidationError{Kind: BadSchema, Message: fmt.Sprintf("undecodable event: %v", err)}
	}

	// (a) Required fields.
	if err := checkRequiredFields(ev, params); err != nil {
		return nil, err
	}

	// (b) Size limit on the full encoded form.
	if len(raw) > params.MaxEventSize {
		return nil, &ValidationError{
			Kind:    Oversized,
			EventID: ev.ID,
			Message: fmt.Sprintf("encoded size %d exceeds limit %d", len(raw), params.MaxEventSize),
		}
	}

	// (c) Content hash vs. claimed ID.
	if err := checkHash(ev); err != nil {
		return nil, err
	}

	// (d) Signatures.
	if err := v.checkSignatures(ev); err != nil {
		return nil, err
	}

	// (e) Graph linkage for non-create events.
	if !ev.IsCreate() {
		if len(ev.PrevEvents) == 0 {
			return nil, &ValidationError{Kind: MissingAuthBasis, EventID: ev.ID, Message: "non-create event with empty prev_events"}
		}
		if len(ev.AuthEvents) == 0 {
			return nil, &ValidationError{Kind: MissingAuthBasis, EventID: ev.ID, Message: "non-create event with empty auth_events"}
		}
	}

	return ev, nil
}

// CheckStructure runs only the version-independent checks on a raw
// encoded event: decodability, content hash against the claimed ID,
// and signature verification. Used when the room version is not yet
// known, so a permanently broken event can be rejected outright
// instead of being reported as a retryable missing dependency.
func (v *Validator) CheckStructure(raw []byte) (*Event, error) {
	ev, err := Decode(raw)
	if err != nil {
		return nil, &ValidationError{Kind: BadSchema, Message: fmt.Sprintf("undecodable event: %v", err)}
	}
	if err := checkHash(ev); err != nil {
		return nil, err
	}
	if err := v.checkSignatures(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// checkHash verifies the content hash against the claimed event ID.
func checkHash(ev *Event) error {
	matches, err := VerifyID(ev)
	if err != nil {
		return &ValidationError{Kind: BadHash, EventID: ev.ID, Message: err.Error()}
	}
	if !matches {
		return &ValidationError{Kind: BadHash, EventID: ev.ID, Message: "content hash does not match claimed event ID"}
	}
	return nil
}

// checkSignatures verifies every claimed signature; at minimum the
// origin server must have signed. An unknown signing key returns
// *MissingKeyError, everything else a *ValidationError.
func (v *Validator) checkSignatures(ev *Event) error {
	if len(ev.Signatures) == 0 {
		return &ValidationError{Kind: BadSignature, EventID: ev.ID, Message: "event carries no signatures"}
	}
	if _, ok := ev.Signatures[ev.Origin.String()]; !ok {
		return &ValidationError{
			Kind:    BadSignature,
			EventID: ev.ID,
			Message: fmt.Sprintf("event is not signed by its origin server %s", ev.Origin),
		}
	}
	for serverName, keys := range ev.Signatures {
		server, err := ref.ParseServerName(serverName)
		if err != nil {
			return &ValidationError{Kind: BadSignature, EventID: ev.ID, Message: fmt.Sprintf("signature from invalid server name %q", serverName)}
		}
		for keyID := range keys {
			publicKey, err := v.Keys.PublicKey(server, keyID)
			if errors.Is(err, ErrKeyNotFound) {
				return &MissingKeyError{Server: server, KeyID: keyID}
			}
			if err != nil {
				return fmt.Errorf("looking up signing key %s/%s: %w", server, keyID, err)
			}
			if err := VerifySignature(ev, server, keyID, publicKey); err != nil {
				return &ValidationError{Kind: BadSignature, EventID: ev.ID, Message: err.Error()}
			}
		}
	}
	return nil
}

// checkRequiredFields enforces presence of the fields every event must
// carry, plus per-type content requirements for the state types the
// engine interprets. Version-gated join rules (knock, restricted) are
// rejected here when the room version does not carry them.
func checkRequiredFields(ev *Event, params VersionParams) *ValidationError {
	fail := func(format string, args ...any) *ValidationError {
		return &ValidationError{Kind: BadSchema, EventID: ev.ID, Message: fmt.Sprintf(format, args...)}
	}

	if ev.ID.IsZero() {
		return fail("missing event_id")
	}
	if ev.RoomID.IsZero() {
		return fail("missing room_id")
	}
	if ev.Type == "" {
		return fail("missing type")
	}
	if ev.Sender.IsZero() {
		return fail("missing sender")
	}
	if ev.Origin.IsZero() {
		return fail("missing origin")
	}
	if ev.OriginTS <= 0 {
		return fail("missing or non-positive origin_server_ts")
	}
	if len(ev.Content) == 0 {
		return fail("missing content")
	}

	switch ev.Type {
	case ref.TypeCreate:
		if ev.StateKey == nil || *ev.StateKey != "" {
			return fail("m.room.create requires an empty state key")
		}
		var content CreateContent
		if err := ev.DecodeContent(&content); err != nil {
			return fail("undecodable m.room.create content: %v", err)
		}
		if content.Creator.IsZero() {
			return fail("m.room.create content missing creator")
		}
		if content.RoomVersion == "" {
			return fail("m.room.create content missing room_version")
		}
	case ref.TypeMember:
		if ev.StateKey == nil {
			return fail("m.room.member requires a state key naming the target user")
		}
		if _, err := ref.ParseUserID(*ev.StateKey); err != nil {
			return fail("m.room.member state key is not a user ID: %v", err)
		}
		var content MemberContent
		if err := ev.DecodeContent(&content); err != nil {
			return fail("undecodable m.room.member content: %v", err)
		}
		switch content.Membership {
		case MembershipInvite, MembershipJoin, MembershipLeave, MembershipBan, MembershipKnock:
		default:
			return fail("m.room.member content has invalid membership %q", content.Membership)
		}
	case ref.TypePowerLevels:
		if ev.StateKey == nil || *ev.StateKey != "" {
			return fail("m.room.power_levels requires an empty state key")
		}
	case ref.TypeJoinRules:
		if ev.StateKey == nil || *ev.StateKey != "" {
			return fail("m.room.join_rules requires an empty state key")
		}
		var content JoinRulesContent
		if err := ev.DecodeContent(&content); err != nil {
			return fail("undecodable m.room.join_rules content: %v", err)
		}
		switch content.JoinRule {
		case "":
			return fail("m.room.join_rules content missing join_rule")
		case JoinRulePublic, JoinRuleInvite, JoinRulePrivate:
		case JoinRuleKnock:
			if !params.KnockAllowed {
				return fail("join_rule knock is not available in this room version")
			}
		case JoinRuleRestricted:
			if !params.RestrictedAllowed {
				return fail("join_rule restricted is not available in this room version")
			}
		default:
			return fail("unknown join_rule %q", content.JoinRule)
		}
	}

	return nil
}
