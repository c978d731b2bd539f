package room

import "github.com/tinkertanker/classroom-widgets-sub001/pkg/types"

// PollState carries aggregate counts only; individual votes stay private
type PollState struct {
	WidgetID   string   `json:"widgetId"`
	Question   string   `json:"question"`
	Options    []string `json:"options"`
	Votes      []int    `json:"votes"`
	TotalVotes int      `json:"totalVotes"`
	IsActive   bool     `json:"isActive"`
	MyVote     *int     `json:"myVote,omitempty"`
}

// Poll holds one vote per participant; revoting replaces the earlier vote
type Poll struct {
	base
	question string
	options  []string
	votes    map[string]int
}

func newPoll(b base) *Poll {
	return &Poll{base: b, votes: make(map[string]int)}
}

func (p *Poll) ResponseCount() int { return len(p.votes) }

// Update replaces the question and options and clears existing votes
func (p *Poll) Update(question string, options []string, em Emitter) {
	p.question = question
	p.options = append([]string(nil), options...)
	p.votes = make(map[string]int)
	p.broadcastState(em)
}

func (p *Poll) SetActive(active bool, em Emitter) {
	p.active = active
	p.broadcastState(em)
}

func (p *Poll) Vote(m Member, optionIndex int, em Emitter) error {
	if err := p.openFor(m); err != nil {
		return err
	}
	if len(p.options) == 0 {
		return ErrNoPoll
	}
	if optionIndex < 0 || optionIndex >= len(p.options) {
		return types.ErrInvalidVote
	}
	p.votes[m.ConnectionID] = optionIndex
	p.broadcastState(em)
	return nil
}

func (p *Poll) Reset(em Emitter) {
	p.votes = make(map[string]int)
	p.broadcastState(em)
}

func (p *Poll) State(m Member) interface{} {
	state := p.snapshot()
	if vote, ok := p.votes[m.ConnectionID]; ok {
		state.MyVote = &vote
	}
	return state
}

func (p *Poll) snapshot() PollState {
	counts := make([]int, len(p.options))
	for _, vote := range p.votes {
		if vote < len(counts) {
			counts[vote]++
		}
	}
	return PollState{
		WidgetID:   p.key.WidgetID,
		Question:   p.question,
		Options:    p.options,
		Votes:      counts,
		TotalVotes: len(p.votes),
		IsActive:   p.active,
	}
}

func (p *Poll) broadcastState(em Emitter) {
	em.ToRoom(types.EventPollStateUpdate, p.snapshot())
}
