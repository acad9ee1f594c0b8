package session

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/consultation-settlement/internal/ledger"
	"github.com/iliyamo/consultation-settlement/internal/model"
)

const (
	shopper  = "Shopper111111111111111111111111111111111"
	expert   = "Expert1111111111111111111111111111111111"
	stranger = "Stranger11111111111111111111111111111111"
)

var fixedNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestMachine() *Machine {
	return NewMachine(func() time.Time { return fixedNow })
}

func sessionIn(status model.SessionStatus) *model.Session {
	return &model.Session{
		ID:        "sess-1",
		Expert:    expert,
		Shopper:   shopper,
		Amount:    50,
		Status:    status,
		CreatedAt: fixedNow.Add(-time.Hour),
		UpdatedAt: fixedNow.Add(-time.Hour),
	}
}

func TestCreate(t *testing.T) {
	m := newTestMachine()

	s, err := m.Create("sess-1", shopper, expert, 50)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPending, s.Status)
	assert.Equal(t, fixedNow, s.CreatedAt)
	assert.Nil(t, s.ActualStartTime)
	assert.Nil(t, s.EndTime)

	_, err = m.Create("sess-1", shopper, expert, 0)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	_, err = m.Create("sess-1", shopper, shopper, 50)
	assert.ErrorIs(t, err, ErrSameParticipant)

	_, err = m.Create("sess-1", "not-base58-0OIl", expert, 50)
	assert.ErrorIs(t, err, ledger.ErrInvalidWalletAddress)

	_, err = m.Create("", shopper, expert, 50)
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	long := make([]byte, MaxIDLength+1)
	for i := range long {
		long[i] = 'a'
	}
	_, err = m.Create(string(long), shopper, expert, 50)
	assert.ErrorIs(t, err, ErrInvalidSessionID)

	_, err = m.Create(string(long[:MaxIDLength]), shopper, expert, 50)
	assert.NoError(t, err)
}

// allowed lists every (status, action, actor) triple that must succeed.
var allowed = map[model.SessionStatus]map[Action][]string{
	model.SessionPending: {
		ActionStart:  {expert},
		ActionCancel: {shopper, expert},
	},
	model.SessionActive: {
		ActionEnd: {expert},
	},
}

func TestApply_FullMatrix(t *testing.T) {
	m := newTestMachine()
	actors := []string{shopper, expert, stranger, ""}

	for _, status := range model.SessionStatuses {
		for _, action := range Actions {
			_, edgeFromHere := allowed[status][action]
			edge, _ := EdgeFor(action)
			for _, actor := range actors {
				s := sessionIn(status)
				before := *s
				_, err := m.Apply(s, action, actor)

				want := contains(allowed[status][action], actor)
				switch {
				case want:
					require.NoError(t, err, "%s %s by %q", action, status, actor)
					assert.Equal(t, edge.To, s.Status)
				case edgeFromHere || status == edge.From:
					assert.True(t, errors.Is(err, ErrUnauthorized), "%s %s by %q: %v", action, status, actor, err)
					assert.Equal(t, before, *s)
				default:
					assert.True(t, errors.Is(err, ErrInvalidStatus), "%s %s by %q: %v", action, status, actor, err)
					assert.Equal(t, before, *s)
				}
				// exactly one classification
				if err != nil {
					assert.False(t, errors.Is(err, ErrUnauthorized) && errors.Is(err, ErrInvalidStatus))
				}
			}
		}
	}
}

func TestApply_Timestamps(t *testing.T) {
	m := newTestMachine()
	s := sessionIn(model.SessionPending)

	prev, err := m.Apply(s, ActionStart, expert)
	require.NoError(t, err)
	assert.Equal(t, model.SessionPending, prev)
	require.NotNil(t, s.ActualStartTime)
	assert.Equal(t, fixedNow, *s.ActualStartTime)
	assert.Nil(t, s.EndTime)

	_, err = m.Apply(s, ActionEnd, expert)
	require.NoError(t, err)
	require.NotNil(t, s.EndTime)
	assert.Equal(t, fixedNow, *s.EndTime)
	assert.Equal(t, model.SessionCompleted, s.Status)

	// terminal
	for _, a := range Actions {
		_, err := m.Apply(s, a, expert)
		assert.ErrorIs(t, err, ErrInvalidStatus)
	}
}

func TestApply_CancelLeavesTimestampsUnset(t *testing.T) {
	m := newTestMachine()
	s := sessionIn(model.SessionPending)

	_, err := m.Apply(s, ActionCancel, shopper)
	require.NoError(t, err)
	assert.Equal(t, model.SessionCancelled, s.Status)
	assert.Nil(t, s.ActualStartTime)
	assert.Nil(t, s.EndTime)

	_, err = m.Apply(s, ActionStart, expert)
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestApply_UnknownAction(t *testing.T) {
	_, err := newTestMachine().Apply(sessionIn(model.SessionPending), Action("pause"), expert)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
