// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package resolve

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/bureau-foundation/roomstate/auth"
	"github.com/bureau-foundation/roomstate/event"
	"github.com/bureau-foundation/roomstate/lib/ref"
)

// Resolver merges divergent branch states. Fetch must resolve every
// event ID reachable from the predecessor states and their auth
// chains; Logger receives anomaly warnings and soft-fail debug lines.
type Resolver struct {
	Fetch  auth.Fetch
	Logger *slog.Logger
}

// Resolve computes the merged, authorized state for a DAG join point
// with the given predecessor branch states.
//
// The result is deterministic in the strong sense: bit-identical (by
// StateMap fingerprint) for the same room version, predecessor set,
// and event graph, regardless of the order states appear in the
// slice. A single predecessor state passes through unchanged.
func (r *Resolver) Resolve(version event.RoomVersion, states []event.StateMap) (event.StateMap, error) {
	params, err := event.Params(version)
	if err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	unconflicted, conflicted := partition(states)
	if len(conflicted) == 0 {
		return unconflicted, nil
	}

	candidates, err := r.loadCandidates(conflicted)
	if err != nil {
		return nil, err
	}

	// Classify: power events get replayed first, in auth-dependency
	// order, because they decide whether everything else is allowed.
	var power, others []*candidate
	for _, c := range candidates {
		if r.isPowerEvent(params, c, logger) {
			power = append(power, c)
		} else {
			others = append(others, c)
		}
	}

	working := unconflicted.Clone()
	r.replay(version, orderPowerEvents(power, r.authClosure(power, logger)), working, logger)

	mainline := r.mainline(working, logger)
	for _, c := range others {
		c.mainlinePos = r.mainlinePosition(c.ev, mainline, logger)
	}
	sort.Slice(others, func(i, j int) bool {
		if others[i].mainlinePos != others[j].mainlinePos {
			return others[i].mainlinePos < others[j].mainlinePos
		}
		return tieBreak(others[i], others[j])
	})
	r.replay(version, others, working, logger)

	return working, nil
}

// candidate is one event competing for a conflicted slot, annotated
// with the ordering inputs computed for it.
type candidate struct {
	ev          *event.Event
	senderPower int64
	mainlinePos int
}

// tieBreak is the deterministic total order used after structural
// ordering: descending sender power at the time of the event, then
// ascending origin timestamp, then ascending event ID.
func tieBreak(a, b *candidate) bool {
	if a.senderPower != b.senderPower {
		return a.senderPower > b.senderPower
	}
	if a.ev.OriginTS != b.ev.OriginTS {
		return a.ev.OriginTS < b.ev.OriginTS
	}
	return a.ev.ID.Less(b.ev.ID)
}

// partition splits the predecessor states into the entries every
// state agrees on and the slots where any two disagree (absence of a
// slot from one predecessor counts as disagreement).
func partition(states []event.StateMap) (event.StateMap, map[event.StateKey][]ref.EventID) {
	unconflicted := make(event.StateMap)
	conflicted := make(map[event.StateKey][]ref.EventID)

	slots := make(map[event.StateKey]struct{})
	for _, state := range states {
		for slot := range state {
			slots[slot] = struct{}{}
		}
	}

	for slot := range slots {
		seen := make(map[ref.EventID]struct{})
		var ids []ref.EventID
		everywhere := true
		for _, state := range states {
			id, ok := state[slot]
			if !ok {
				everywhere = false
				continue
			}
			if _, dup := seen[id]; !dup {
				seen[id] = struct{}{}
				ids = append(ids, id)
			}
		}
		if everywhere && len(ids) == 1 {
			unconflicted[slot] = ids[0]
			continue
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i].Less(ids[j]) })
		conflicted[slot] = ids
	}
	return unconflicted, conflicted
}

// loadCandidates fetches every event competing for a conflicted slot
// and computes its sender power. Returned in ascending event ID order
// so later processing starts from a canonical sequence.
func (r *Resolver) loadCandidates(conflicted map[event.StateKey][]ref.EventID) ([]*candidate, error) {
	seen := make(map[ref.EventID]struct{})
	var out []*candidate
	for _, ids := range conflicted {
		for _, id := range ids {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ev, err := r.Fetch(id)
			if err != nil {
				return nil, fmt.Errorf("resolve: fetching conflicted event %s: %w", id, err)
			}
			out = append(out, &candidate{ev: ev, senderPower: r.powerAt(ev, ev.Sender)})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ev.ID.Less(out[j].ev.ID) })
	return out, nil
}

// isPowerEvent classifies a conflicted event. Power-levels changes
// always qualify. A membership change qualifies when the target holds
// a level above the version's threshold at the time of the event, or
// (when the version says so) when it is a kick or ban.
func (r *Resolver) isPowerEvent(params event.VersionParams, c *candidate, logger *slog.Logger) bool {
	ev := c.ev
	switch ev.Type {
	case ref.TypePowerLevels:
		return true
	case ref.TypeMember:
		if ev.StateKey == nil {
			return false
		}
		target, err := ref.ParseUserID(*ev.StateKey)
		if err != nil {
			return false
		}
		if r.powerAt(ev, target) > params.PowerEventThreshold {
			return true
		}
		if params.PowerEventKicksBans && ev.Sender != target {
			var content event.MemberContent
			if err := ev.DecodeContent(&content); err != nil {
				logger.Warn("undecodable membership content during classification",
					"event_id", ev.ID, "error", err)
				return false
			}
			return content.Membership == event.MembershipLeave ||
				content.Membership == event.MembershipBan
		}
	}
	return false
}

// powerAt returns the given user's power level at the time of ev,
// read from the power-levels event (or failing that the create event)
// in ev's claimed auth basis. Anomalies fall back to the minimal
// default table.
func (r *Resolver) powerAt(ev *event.Event, user ref.UserID) int64 {
	var creator ref.UserID
	for _, authID := range ev.AuthEvents {
		authEv, err := r.Fetch(authID)
		if err != nil {
			continue
		}
		switch authEv.Type {
		case ref.TypePowerLevels:
			var levels event.PowerLevelsContent
			if err := authEv.DecodeContent(&levels); err == nil {
				return levels.UserLevel(user)
			}
		case ref.TypeCreate:
			var content event.CreateContent
			if err := authEv.DecodeContent(&content); err == nil {
				creator = content.Creator
			}
		}
	}
	if ev.IsCreate() {
		var content event.CreateContent
		if err := ev.DecodeContent(&content); err == nil {
			creator = content.Creator
		}
	}
	levels := event.DefaultPowerLevels(creator)
	return levels.UserLevel(user)
}

// authClosure computes, for each power event, which of the other
// power events appear in its transitive auth chain. Missing chain
// events bound the order less precisely but are not fatal.
func (r *Resolver) authClosure(power []*candidate, logger *slog.Logger) map[ref.EventID]map[ref.EventID]struct{} {
	inSet := make(map[ref.EventID]struct{}, len(power))
	for _, c := range power {
		inSet[c.ev.ID] = struct{}{}
	}

	closure := make(map[ref.EventID]map[ref.EventID]struct{}, len(power))
	for _, c := range power {
		deps := make(map[ref.EventID]struct{})
		visited := map[ref.EventID]struct{}{c.ev.ID: {}}
		frontier := append([]ref.EventID(nil), c.ev.AuthEvents...)
		for len(frontier) > 0 {
			id := frontier[len(frontier)-1]
			frontier = frontier[:len(frontier)-1]
			if _, ok := visited[id]; ok {
				continue
			}
			visited[id] = struct{}{}
			if _, ok := inSet[id]; ok {
				deps[id] = struct{}{}
			}
			ancestor, err := r.Fetch(id)
			if err != nil {
				logger.Warn("auth chain walk hit unfetchable event",
					"event_id", id, "error", err)
				continue
			}
			frontier = append(frontier, ancestor.AuthEvents...)
		}
		closure[c.ev.ID] = deps
	}
	return closure
}

// orderPowerEvents topologically sorts power events by their auth
// dependencies (an event ordered after everything it depends on),
// breaking ties with the deterministic tie-break chain. Cycles cannot
// occur in a content-addressed graph; if the closure is somehow
// cyclic the remainder is appended in tie-break order.
func orderPowerEvents(power []*candidate, closure map[ref.EventID]map[ref.EventID]struct{}) []*candidate {
	remaining := make(map[ref.EventID]*candidate, len(power))
	pending := make(map[ref.EventID]int, len(power))
	for _, c := range power {
		remaining[c.ev.ID] = c
		pending[c.ev.ID] = len(closure[c.ev.ID])
	}

	ordered := make([]*candidate, 0, len(power))
	for len(remaining) > 0 {
		var ready []*candidate
		for id, c := range remaining {
			if pending[id] == 0 {
				ready = append(ready, c)
			}
		}
		if len(ready) == 0 {
			for _, c := range remaining {
				ready = append(ready, c)
			}
		}
		sort.Slice(ready, func(i, j int) bool { return tieBreak(ready[i], ready[j]) })

		next := ready[0]
		ordered = append(ordered, next)
		delete(remaining, next.ev.ID)
		for id := range remaining {
			if _, ok := closure[id][next.ev.ID]; ok {
				pending[id]--
			}
		}
	}
	return ordered
}

// replay applies candidates in order through the authorization engine
// against the accumulating working state. Accepted events take their
// slot; rejected events are soft-failed and leave the state untouched.
func (r *Resolver) replay(version event.RoomVersion, ordered []*candidate, working event.StateMap, logger *slog.Logger) {
	for _, c := range ordered {
		ok, err := auth.Authorize(version, c.ev, working, r.Fetch)
		if err != nil {
			logger.Warn("authorization unevaluable during resolution, event dropped",
				"event_id", c.ev.ID, "error", err)
			continue
		}
		if !ok {
			logger.Debug("event soft-failed during resolution",
				"event_id", c.ev.ID, "type", c.ev.Type)
			continue
		}
		working[c.ev.Slot()] = c.ev.ID
	}
}

// mainline builds the ordering backbone for non-power events: the
// chain of power-levels events from the resolved power slot back
// toward the create event, oldest first. Index in the returned map is
// the mainline position.
func (r *Resolver) mainline(working event.StateMap, logger *slog.Logger) map[ref.EventID]int {
	var chain []ref.EventID
	visited := make(map[ref.EventID]struct{})

	id, ok := working.Get(ref.TypePowerLevels, "")
	for ok {
		if _, seen := visited[id]; seen {
			break
		}
		visited[id] = struct{}{}
		chain = append(chain, id)

		ev, err := r.Fetch(id)
		if err != nil {
			logger.Warn("mainline walk hit unfetchable power event, using minimal defaults",
				"event_id", id, "error", err)
			break
		}
		id, ok = nextMainlineLink(ev, r.Fetch)
	}

	positions := make(map[ref.EventID]int, len(chain))
	for i, id := range chain {
		// chain is newest-first; position 0 is the oldest link.
		positions[id] = len(chain) - 1 - i
	}
	return positions
}

// nextMainlineLink finds the power-levels predecessor in an event's
// auth basis.
func nextMainlineLink(ev *event.Event, fetch auth.Fetch) (ref.EventID, bool) {
	for _, authID := range ev.AuthEvents {
		authEv, err := fetch(authID)
		if err != nil {
			continue
		}
		if authEv.Type == ref.TypePowerLevels {
			return authID, true
		}
	}
	return ref.EventID{}, false
}

// mainlinePosition assigns an event the position of the nearest
// mainline ancestor reachable through its auth chain, or -1 when none
// is reachable (ordered before everything anchored to the mainline).
func (r *Resolver) mainlinePosition(ev *event.Event, mainline map[ref.EventID]int, logger *slog.Logger) int {
	current := ev
	visited := make(map[ref.EventID]struct{})
	for {
		if _, seen := visited[current.ID]; seen {
			return -1
		}
		visited[current.ID] = struct{}{}

		linkID, ok := nextMainlineLink(current, r.Fetch)
		if !ok {
			return -1
		}
		if pos, onMainline := mainline[linkID]; onMainline {
			return pos
		}
		next, err := r.Fetch(linkID)
		if err != nil {
			logger.Warn("mainline ancestor walk hit unfetchable event",
				"event_id", linkID, "error", err)
			return -1
		}
		current = next
	}
}
