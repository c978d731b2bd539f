package types

import (
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	maxPayloadBytes    = 65536
	maxWidgetIDLength  = 100
	maxDisplayName     = 50
	maxQuestionLength  = 500
	maxURLLength       = 2048
	minPollOptions     = 2
	maxPollOptions     = 10
	minFeedbackValue   = 1
	maxFeedbackValue   = 5
	maxActivityTargets = 200
)

// FUNCTIONAL DISCOVERY: Regex compiled once at package initialization
// for high-frequency validation on every inbound event
var sessionCodeRegex = regexp.MustCompile(`^[A-Z0-9]{4,8}$`)

// NormalizeCode makes session codes case-insensitive
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// IsValidSessionCode checks an already-normalised code
func IsValidSessionCode(code string) bool {
	return sessionCodeRegex.MatchString(code)
}

// IsValidWidgetID checks the opaque widget identifier
func IsValidWidgetID(widgetID string) bool {
	return len(widgetID) >= 1 && len(widgetID) <= maxWidgetIDLength
}

// IsValidRoomType checks the room discriminator
func IsValidRoomType(roomType string) bool {
	switch roomType {
	case RoomTypeActivity, RoomTypePoll, RoomTypeLinkShare, RoomTypeRTFeedback, RoomTypeQuestions:
		return true
	default:
		return false
	}
}

func normalizeSessionCode(code *string) error {
	*code = NormalizeCode(*code)
	if !IsValidSessionCode(*code) {
		return ErrInvalidSessionCode
	}
	return nil
}

// Validate normalises an optional existing code; an unusable code is
// dropped rather than rejected so the host still gets a fresh session
func (p *CreateSessionPayload) Validate() error {
	p.ExistingCode = NormalizeCode(p.ExistingCode)
	if p.ExistingCode != "" && !IsValidSessionCode(p.ExistingCode) {
		p.ExistingCode = ""
	}
	return nil
}

func (p *JoinSessionPayload) Validate() error {
	if err := normalizeSessionCode(&p.Code); err != nil {
		return err
	}
	p.Name = strings.TrimSpace(p.Name)
	if n := utf8.RuneCountInString(p.Name); n < 1 || n > maxDisplayName {
		return ErrInvalidDisplayName
	}
	return nil
}

func (p *SessionRef) Validate() error {
	return normalizeSessionCode(&p.Code)
}

func (p *RoomRef) Validate() error {
	if err := normalizeSessionCode(&p.Code); err != nil {
		return err
	}
	if !IsValidRoomType(p.RoomType) {
		return ErrInvalidRoomType
	}
	if !IsValidWidgetID(p.WidgetID) {
		return ErrInvalidWidgetID
	}
	return nil
}

func (p *CleanupRoomsPayload) Validate() error {
	if err := normalizeSessionCode(&p.Code); err != nil {
		return err
	}
	if p.ActiveWidgetIDs == nil {
		return ErrMissingField
	}
	return nil
}

func (p *WidgetStatePayload) Validate() error {
	if err := p.RoomRef.Validate(); err != nil {
		return err
	}
	if p.IsActive == nil {
		return ErrMissingField
	}
	return nil
}

func (p *WidgetRef) Validate() error {
	if err := normalizeSessionCode(&p.Code); err != nil {
		return err
	}
	if !IsValidWidgetID(p.WidgetID) {
		return ErrInvalidWidgetID
	}
	return nil
}

func (p *ActivityUpdatePayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	if p.Activity == nil {
		return ErrMissingActivity
	}
	return p.Activity.Validate()
}

// Validate checks structural sanity only. Dangling accepts references are
// allowed and simply never match.
func (d *ActivityDefinition) Validate() error {
	if len(d.Targets) > maxActivityTargets {
		return ErrInvalidActivity
	}
	seen := make(map[string]bool, len(d.Targets))
	for _, target := range d.Targets {
		if target.ID == "" || seen[target.ID] {
			return ErrInvalidActivity
		}
		seen[target.ID] = true
		switch target.EvaluationMode {
		case "", EvaluationExact, EvaluationWhitespaceFlexible:
		default:
			return ErrInvalidActivity
		}
	}
	for _, item := range d.Items {
		if item.ID == "" {
			return ErrInvalidActivity
		}
	}
	return nil
}

func (p *ActivitySubmitPayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	for _, placement := range p.Answers.Placements {
		if placement.ItemID == "" || placement.TargetID == "" {
			return ErrMalformedPayload
		}
	}
	return nil
}

func (p *PollUpdatePayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	p.Question = strings.TrimSpace(p.Question)
	if p.Question == "" || len(p.Options) < minPollOptions || len(p.Options) > maxPollOptions {
		return ErrInvalidPollOptions
	}
	for i, option := range p.Options {
		p.Options[i] = strings.TrimSpace(option)
		if p.Options[i] == "" {
			return ErrInvalidPollOptions
		}
	}
	return nil
}

func (p *PollVotePayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	if p.OptionIndex == nil || *p.OptionIndex < 0 {
		return ErrInvalidVote
	}
	return nil
}

func (p *LinkSubmitPayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	p.URL = strings.TrimSpace(p.URL)
	if len(p.URL) == 0 || len(p.URL) > maxURLLength {
		return ErrInvalidURL
	}
	parsed, err := url.Parse(p.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return ErrInvalidURL
	}
	return nil
}

func (p *LinkDeletePayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	if p.SubmissionID == "" {
		return ErrMissingField
	}
	return nil
}

func (p *FeedbackPayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	if p.Value < minFeedbackValue || p.Value > maxFeedbackValue {
		return ErrInvalidFeedback
	}
	return nil
}

func (p *QuestionAskPayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	p.Text = strings.TrimSpace(p.Text)
	if n := utf8.RuneCountInString(p.Text); n < 1 || n > maxQuestionLength {
		return ErrInvalidQuestion
	}
	return nil
}

func (p *QuestionRefPayload) Validate() error {
	if err := p.WidgetRef.Validate(); err != nil {
		return err
	}
	if p.QuestionID == "" {
		return ErrMissingField
	}
	return nil
}
