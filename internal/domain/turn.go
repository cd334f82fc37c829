package domain

// TurnDecision is the flow signal for one turn. Wait implies an empty
// micro reply.
type TurnDecision struct {
	Action         TurnAction `json:"action"`
	MicroReplyText string     `json:"micro_reply_text"`
	Reason         string     `json:"reason"`
	Confidence     float64    `json:"confidence"`
}
