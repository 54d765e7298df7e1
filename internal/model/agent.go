package model

// AgentIdentity is the lightweight identity record an agent publishes
// under. phi_score is advisory only — the authoritative value always
// comes from the phi scorer's store, never from this cached copy.
type AgentIdentity struct {
	AgentID  string  `json:"agent_id"`
	Role     string  `json:"role"`
	Model    string  `json:"model"`
	PhiScore float64 `json:"phi_score"`
}
