package domain

type PresentationKind string

const (
	PresentationIdle       PresentationKind = "idle"
	PresentationPresenting PresentationKind = "presenting"
	PresentationFollowing  PresentationKind = "presentation"
)

// PresentationState is a tagged union: PresenterUserID is set only for
// PresentationFollowing, IsEditMode is meaningless for PresentationIdle.
type PresentationState struct {
	Kind            PresentationKind `json:"type"`
	IsEditMode      bool             `json:"isEditMode,omitempty"`
	PresenterUserID UserID           `json:"presenterUserId,omitempty"`
	// PresenterSessionID narrows the presenter to one of its sessions.
	PresenterSessionID SessionID `json:"presenterSessionId,omitempty"`
}

func IdleState() PresentationState { return PresentationState{Kind: PresentationIdle} }

func PresentingState(isEditMode bool) PresentationState {
	return PresentationState{Kind: PresentationPresenting, IsEditMode: isEditMode}
}

func FollowingState(presenter Session, isEditMode bool) PresentationState {
	return PresentationState{
		Kind:               PresentationFollowing,
		PresenterUserID:    presenter.UserID,
		PresenterSessionID: presenter.SessionID,
		IsEditMode:         isEditMode,
	}
}
