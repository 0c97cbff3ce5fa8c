package verdict

// Action is the gate decision.
type Action string

const (
	ActionApprove Action = "approve"
	ActionAbstain Action = "abstain"
)

// ApprovalCertainty is the minimum vote share for approval.
const ApprovalCertainty = 2.0 / 3.0

// Gated is a verdict with its gate decision attached. It is terminal.
type Gated struct {
	Verdict
	Action    Action  `json:"action"`
	Certainty float64 `json:"certainty"`
}

// Gate computes certainty as vote share and approves at two of three votes.
// The input is left untouched.
func Gate(v Verdict) Gated {
	v.WinningPlan = v.WinningPlan.Clone()
	v.Votes = append([]Vote(nil), v.Votes...)

	certainty := float64(v.VoteCount) / PanelSize
	action := ActionAbstain
	if v.VoteCount*3 >= 2*PanelSize {
		action = ActionApprove
	}
	return Gated{Verdict: v, Action: action, Certainty: certainty}
}
