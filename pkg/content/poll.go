package content

import (
	"sort"

	"github.com/liangmulu/open-chat/pkg/models"
)

// VoteOperation selects whether a vote is registered or removed.
type VoteOperation int

const (
	VoteRegister VoteOperation = iota
	VoteDelete
)

// RegisterVote applies a vote change for user.
func (p *PollContent) RegisterVote(user models.UserID, option uint32, op VoteOperation, now models.TimestampMillis) error {
	if p.Ended || (p.Config.EndDate != nil && now >= *p.Config.EndDate) {
		return ErrPollEnded
	}
	if int(option) >= len(p.Config.Options) {
		return ErrPollOptionInvalid
	}
	if op == VoteDelete {
		if !p.Config.AllowUserToChangeVote {
			return ErrUserCannotChangeVote
		}
		p.removeVote(user, option)
		return nil
	}
	mine := p.UserVotes(user)
	for _, o := range mine {
		if o == option {
			return nil
		}
	}
	if len(mine) > 0 && !p.Config.AllowMultipleVotesPerUser {
		if !p.Config.AllowUserToChangeVote {
			return ErrUserCannotChangeVote
		}
		for _, o := range mine {
			p.removeVote(user, o)
		}
	}
	if p.Votes == nil {
		p.Votes = map[uint32][]models.UserID{}
	}
	p.Votes[option] = append(p.Votes[option], user)
	return nil
}

// UserVotes returns the options user voted for, ascending.
func (p *PollContent) UserVotes(user models.UserID) []uint32 {
	var out []uint32
	for o, users := range p.Votes {
		for _, u := range users {
			if u == user {
				out = append(out, o)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// End closes the poll. Returns false if it had already ended.
func (p *PollContent) End() bool {
	if p.Ended {
		return false
	}
	p.Ended = true
	return true
}

func (p *PollContent) removeVote(user models.UserID, option uint32) {
	users := p.Votes[option]
	for i, u := range users {
		if u == user {
			users = append(users[:i], users[i+1:]...)
			break
		}
	}
	if len(users) == 0 {
		delete(p.Votes, option)
		return
	}
	p.Votes[option] = users
}

// Join adds user to the call. Joining twice keeps the first join time.
func (v *VideoCallContent) Join(user models.UserID, now models.TimestampMillis, hidden bool) error {
	if v.Ended != nil {
		return ErrVideoCallEnded
	}
	for _, p := range v.Participants {
		if p.User == user {
			return nil
		}
	}
	for _, p := range v.HiddenParticipants {
		if p.User == user {
			return nil
		}
	}
	if hidden {
		v.HiddenParticipants = append(v.HiddenParticipants, CallParticipant{User: user, Joined: now})
	} else {
		v.Participants = append(v.Participants, CallParticipant{User: user, Joined: now})
	}
	return nil
}

// End marks the call ended. Returns false if it had already ended.
func (v *VideoCallContent) End(now models.TimestampMillis) bool {
	if v.Ended != nil {
		return false
	}
	v.Ended = &now
	return true
}
