package game

const (
	correctGuessPoints = 1
	missedVotePoints   = -1
	perfectBluffPoints = 3
	caughtBluffPoints  = -2
)

type Outcome struct {
	Results      []VoteResult
	Deltas       map[string]int
	Voters       int
	ActualVoters int
	CorrectVotes int
}

// Score computes one result per member, in roster order. The target is
// declaredLie when set, fabricated otherwise.
func Score(members []*Player, speakerID string, votes map[string]string, declaredLie, fabricated string) Outcome {
	target := fabricated
	if declaredLie != "" {
		target = declaredLie
	}

	out := Outcome{
		Results: make([]VoteResult, 0, len(members)),
		Deltas:  make(map[string]int, len(members)),
	}
	speakerIndex := -1
	for _, member := range members {
		result := VoteResult{PlayerID: member.ID, Nickname: member.Nickname}
		if member.ID == speakerID {
			speakerIndex = len(out.Results)
			out.Results = append(out.Results, result)
			continue
		}

		out.Voters++
		voted := votes[member.ID]
		switch {
		case voted == "":
			result.ScoreChange = missedVotePoints
		case voted == target:
			out.ActualVoters++
			out.CorrectVotes++
			result.IsCorrect = true
			result.ScoreChange = correctGuessPoints
		default:
			out.ActualVoters++
		}
		result.VotedImageURL = voted
		out.Deltas[member.ID] = result.ScoreChange
		out.Results = append(out.Results, result)
	}

	if speakerIndex < 0 {
		return out
	}
	delta := speakerDelta(out.Voters, out.ActualVoters, out.CorrectVotes)
	speaker := &out.Results[speakerIndex]
	speaker.VotedImageURL = declaredLie
	speaker.IsCorrect = true
	speaker.IsSpeaker = true
	speaker.ScoreChange = delta
	out.Deltas[speakerID] = delta
	return out
}

func speakerDelta(voters, actualVoters, correctVotes int) int {
	switch {
	case correctVotes == 0:
		return perfectBluffPoints
	case actualVoters > 0 && correctVotes == actualVoters:
		return caughtBluffPoints
	default:
		// ceil(voters / 2)
		return (voters + 1) / 2
	}
}

func scoreRound(members []*Player, round *GameRound) Outcome {
	return Score(members, round.SpeakerID, round.Votes, round.SpeakerFakeImageURL, round.FakeImageURL)
}
