package conversation

// State is the step a session is at.
type State string

const (
	Idle                    State = "idle"
	AwaitingImage           State = "awaiting_image"
	AwaitingConfirmation    State = "awaiting_confirmation"
	AwaitingSplitMethod     State = "awaiting_split_method"
	AwaitingParticipantInfo State = "awaiting_participant_info"
	Completed               State = "completed"
	Expired                 State = "expired"
)

// Terminal reports whether no further transitions are accepted.
func (s State) Terminal() bool {
	return s == Completed || s == Expired
}

func (s State) Valid() bool {
	switch s {
	case Idle, AwaitingImage, AwaitingConfirmation, AwaitingSplitMethod, AwaitingParticipantInfo, Completed, Expired:
		return true
	}
	return false
}
