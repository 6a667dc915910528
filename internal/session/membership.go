package session

import (
	"time"

	"raidboard/pkg/types"
)

// Roster rules. Every function here mutates only the session it is given and
// assumes the caller holds that session's lock.

// checkForming rejects roster changes once the encounter has started
func checkForming(s *types.Session) error {
	switch s.Status {
	case types.StatusRecruiting, types.StatusReady:
		return nil
	case types.StatusInProgress:
		return ErrInvalidState
	default:
		return ErrSessionClosed
	}
}

// checkLeader rejects callers that do not hold the leader role
func checkLeader(s *types.Session, playerID string) error {
	if s.LeaderID() != playerID {
		return ErrNotLeader
	}
	return nil
}

// checkAdmission validates a prospective member without mutating s
func checkAdmission(s *types.Session, playerID string, level, maxLevel int) error {
	if len(s.Members) >= s.Capacity.Max {
		return ErrSessionFull
	}
	if s.MemberIndex(playerID) >= 0 {
		return ErrAlreadyJoined
	}
	return checkLevel(s, level, maxLevel)
}

func checkLevel(s *types.Session, level, maxLevel int) error {
	if level < s.Settings.MinLevel {
		return ErrLevelTooLow
	}
	if level > maxLevel {
		return ErrLevelTooHigh
	}
	return nil
}

// addMember appends playerID as a plain member and re-evaluates readiness
func addMember(s *types.Session, playerID string, now time.Time) {
	s.Members = append(s.Members, types.Member{
		PlayerID: playerID,
		Role:     types.RoleMember,
		JoinedAt: now,
		Status:   types.MemberAlive,
	})
	s.LastActivityAt = now
	reevaluateReadiness(s)
}

// removeMember drops playerID from the roster. When the leader leaves, the
// remaining member with the earliest JoinedAt takes over; the returned ID is
// the new leader, or "" if leadership did not change.
func removeMember(s *types.Session, playerID string, now time.Time) (string, error) {
	idx := s.MemberIndex(playerID)
	if idx < 0 {
		return "", ErrNotMember
	}

	wasLeader := s.Members[idx].Role == types.RoleLeader
	s.Members = append(s.Members[:idx], s.Members[idx+1:]...)
	s.LastActivityAt = now

	newLeader := ""
	if wasLeader && len(s.Members) > 0 {
		next := 0
		for i := 1; i < len(s.Members); i++ {
			if s.Members[i].JoinedAt.Before(s.Members[next].JoinedAt) {
				next = i
			}
		}
		s.Members[next].Role = types.RoleLeader
		newLeader = s.Members[next].PlayerID
	}

	reevaluateReadiness(s)
	return newLeader, nil
}

// transferLeadership hands the leader role from fromID to toID
func transferLeadership(s *types.Session, fromID, toID string) error {
	if err := checkLeader(s, fromID); err != nil {
		return err
	}
	to := s.MemberIndex(toID)
	if to < 0 {
		return ErrNotMember
	}
	if fromID == toID {
		return nil
	}

	from := s.MemberIndex(fromID)
	s.Members[from].Role = types.RoleMember
	s.Members[to].Role = types.RoleLeader
	return nil
}

// queueApplicant parks playerID until the leader approves or rejects it
func queueApplicant(s *types.Session, playerID string, level, maxLevel int, now time.Time) error {
	if s.MemberIndex(playerID) >= 0 {
		return ErrAlreadyJoined
	}
	if s.ApplicantIndex(playerID) >= 0 {
		return ErrAlreadyApplied
	}
	if len(s.Members) >= s.Capacity.Max {
		return ErrSessionFull
	}
	if err := checkLevel(s, level, maxLevel); err != nil {
		return err
	}

	s.Applicants = append(s.Applicants, types.Applicant{PlayerID: playerID, Level: level, AppliedAt: now})
	s.LastActivityAt = now
	return nil
}

// dropApplicant removes playerID from the approval queue
func dropApplicant(s *types.Session, playerID string) (types.Applicant, error) {
	idx := s.ApplicantIndex(playerID)
	if idx < 0 {
		return types.Applicant{}, ErrNotApplicant
	}
	applicant := s.Applicants[idx]
	s.Applicants = append(s.Applicants[:idx], s.Applicants[idx+1:]...)
	if len(s.Applicants) == 0 {
		s.Applicants = nil
	}
	return applicant, nil
}

// reevaluateReadiness toggles recruiting <-> ready from the roster size and
// reports whether the status changed. Other statuses are left untouched.
func reevaluateReadiness(s *types.Session) bool {
	if s.Status != types.StatusRecruiting && s.Status != types.StatusReady {
		return false
	}

	want := types.StatusRecruiting
	if len(s.Members) >= s.Capacity.Min {
		want = types.StatusReady
	}
	if s.Status == want {
		return false
	}
	s.Status = want
	return true
}
