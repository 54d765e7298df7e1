package model

import "time"

// TaskOutcome is one raw observation feeding the phi scorer for a given
// (agent, domain) pair: whether a task the agent undertook in that
// skill domain was ultimately approved.
type TaskOutcome struct {
	AgentID  string    `json:"agent_id"`
	Domain   string    `json:"domain"`
	Approved bool      `json:"approved"`
	At       time.Time `json:"at"`
}

// PhiScore is the cached, recomputed trust score for an (agent, domain)
// pair. Unlike most of the protocol, this row is updated in place rather
// than appended — the one exception to append-only storage noted in the
// external interfaces schema invariants.
type PhiScore struct {
	AgentID     string    `json:"agent_id"`
	Domain      string    `json:"domain"`
	Phi         float64   `json:"phi"`
	RecomputedAt time.Time `json:"recomputed_at"`
}
