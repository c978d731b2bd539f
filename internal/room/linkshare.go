package room

import (
	"time"

	"github.com/tinkertanker/classroom-widgets-sub001/pkg/types"
)

// LinkSubmission is one shared URL
type LinkSubmission struct {
	ID           string    `json:"id"`
	ConnectionID string    `json:"connectionId"`
	DisplayName  string    `json:"displayName"`
	URL          string    `json:"url"`
	SubmittedAt  time.Time `json:"submittedAt"`
}

// LinkShareState is the host view of every submission
type LinkShareState struct {
	WidgetID    string           `json:"widgetId"`
	IsActive    bool             `json:"isActive"`
	Submissions []LinkSubmission `json:"submissions"`
}

// LinkShare collects links from participants for the host only
type LinkShare struct {
	base
	submissions []LinkSubmission
	newID       func() string
	now         func() time.Time
}

func newLinkShare(b base, newID func() string) *LinkShare {
	return &LinkShare{base: b, newID: newID, now: time.Now}
}

func (l *LinkShare) ResponseCount() int { return len(l.submissions) }

// SetActive has no link-specific push; the session announces the change
func (l *LinkShare) SetActive(active bool, _ Emitter) {
	l.active = active
}

func (l *LinkShare) Submit(m Member, url string, em Emitter) (LinkSubmission, error) {
	if err := l.openFor(m); err != nil {
		return LinkSubmission{}, err
	}
	submission := LinkSubmission{
		ID:           l.newID(),
		ConnectionID: m.ConnectionID,
		DisplayName:  m.DisplayName,
		URL:          url,
		SubmittedAt:  l.now(),
	}
	l.submissions = append(l.submissions, submission)
	em.ToHost(types.EventLinkShareSubmissionsUpdate, l.hostState())
	return submission, nil
}

func (l *LinkShare) Delete(submissionID string, em Emitter) error {
	for i, submission := range l.submissions {
		if submission.ID == submissionID {
			l.submissions = append(l.submissions[:i], l.submissions[i+1:]...)
			em.ToHost(types.EventLinkShareSubmissionsUpdate, l.hostState())
			return nil
		}
	}
	return ErrSubmissionNotFound
}

// State shows the host every link and a participant only their own
func (l *LinkShare) State(m Member) interface{} {
	if m.IsHost {
		return l.hostState()
	}
	own := LinkShareState{WidgetID: l.key.WidgetID, IsActive: l.active, Submissions: []LinkSubmission{}}
	for _, submission := range l.submissions {
		if submission.ConnectionID == m.ConnectionID {
			own.Submissions = append(own.Submissions, submission)
		}
	}
	return own
}

func (l *LinkShare) hostState() LinkShareState {
	submissions := make([]LinkSubmission, len(l.submissions))
	copy(submissions, l.submissions)
	return LinkShareState{WidgetID: l.key.WidgetID, IsActive: l.active, Submissions: submissions}
}
