package domain

import (
	"encoding/json"
	"fmt"
)

// AvailableUser is a user the requester may reference. Extra carries open
// extension attributes; resolution never reads them.
type AvailableUser struct {
	ID    string         `json:"id"`
	Name  string         `json:"name"`
	Extra map[string]any `json:"-"`
}

// MarshalJSON flattens Extra next to id and name.
func (u AvailableUser) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(u.Extra)+2)
	for k, v := range u.Extra {
		out[k] = v
	}
	out["id"] = u.ID
	out["name"] = u.Name
	return json.Marshal(out)
}

// UnmarshalJSON keeps unknown keys in Extra.
func (u *AvailableUser) UnmarshalJSON(data []byte) error {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	id, _ := raw["id"].(string)
	name, _ := raw["name"].(string)
	if id == "" || name == "" {
		return fmt.Errorf("%w: available user requires id and name", ErrInvalidMessage)
	}
	delete(raw, "id")
	delete(raw, "name")
	u.ID, u.Name = id, name
	u.Extra = nil
	if len(raw) > 0 {
		u.Extra = raw
	}
	return nil
}

// AvailableUsers is keyed by user id and is the ceiling for resolution.
type AvailableUsers map[string]AvailableUser

// Candidate is a possible target offered for clarification.
type Candidate struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ResolvedTarget links an intent fragment to an authorized user.
type ResolvedTarget struct {
	Text           string    `json:"text"`
	TargetUserID   string    `json:"target_user_id"`
	TargetUserName string    `json:"target_user_name"`
	MatchType      MatchType `json:"match_type"`
}

// UnresolvedTarget needs the user to clarify who they meant.
type UnresolvedTarget struct {
	Text            string      `json:"text"`
	Candidates      []Candidate `json:"candidates"`
	ClarifyQuestion string      `json:"clarify_question"`
}

// AccessResolution is the access resolution stage output.
type AccessResolution struct {
	Resolved   []ResolvedTarget   `json:"resolved"`
	Unresolved []UnresolvedTarget `json:"unresolved"`
}
