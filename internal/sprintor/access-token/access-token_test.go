package accesstoken

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/ParashDev/sprintor-sub002/internal/sprintor/apierrors"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/config"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/dao"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/sessions"
	"github.com/ParashDev/sprintor-sub002/internal/sprintor/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestIssuer(t *testing.T) *Issuer {
	t.Helper()
	cfg := &config.Config{SessionsDBPath: filepath.Join(t.TempDir(), "sessions.db")}
	sm := sessions.NewSessionsManager(cfg, types.SessionTokenExpiresPeriod)
	t.Cleanup(sm.Close)
	return NewIssuer([]byte("test-secret"), sm)
}

func testSprint(passwordHash string, guestAccess bool) *dao.Sprint {
	return &dao.Sprint{
		Id:               dao.GenUUID(),
		HostId:           "host-id",
		Name:             "Planning",
		PasswordHash:     passwordHash,
		AllowGuestAccess: guestAccess,
	}
}

func TestIssueAccessLevels(t *testing.T) {
	issuer := newTestIssuer(t)
	hash := dao.GenPasswordHash("secret")

	// Владелец получает admin даже при верном пароле гостя
	sprint := testSprint(hash, true)
	access, err := issuer.IssueAccess(sprint, "Host", "secret", "host-id")
	require.NoError(t, err)
	assert.Equal(t, types.AdminAccess, access.AccessLevel)
	assert.Equal(t, "host", access.GrantedBy)

	access, err = issuer.IssueAccess(sprint, "Sam", "secret", "")
	require.NoError(t, err)
	assert.Equal(t, types.ContributeAccess, access.AccessLevel)

	access, err = issuer.IssueAccess(sprint, "Guest", "", "")
	require.NoError(t, err)
	assert.Equal(t, types.ViewAccess, access.AccessLevel)
	assert.Equal(t, "guest-access", access.GrantedBy)

	_, err = issuer.IssueAccess(sprint, "Sam", "wrong", "")
	assert.ErrorIs(t, err, apierrors.ErrSprintInvalidCredentials)
}

func TestIssueAccessClosedSprint(t *testing.T) {
	issuer := newTestIssuer(t)
	hash := dao.GenPasswordHash("secret")

	sprint := testSprint(hash, false)
	_, err := issuer.IssueAccess(sprint, "Sam", "", "")
	assert.ErrorIs(t, err, apierrors.ErrSprintPasswordRequired)

	open := testSprint("", false)
	_, err = issuer.IssueAccess(open, "Sam", "", "")
	assert.ErrorIs(t, err, apierrors.ErrSprintAccessDenied)
}

func TestFreshParticipantIdPerJoin(t *testing.T) {
	issuer := newTestIssuer(t)
	sprint := testSprint("", true)

	first, err := issuer.IssueAccess(sprint, "Sam", "", "")
	require.NoError(t, err)
	second, err := issuer.IssueAccess(sprint, "Sam", "", "")
	require.NoError(t, err)

	if first.ParticipantId == second.ParticipantId {
		t.Error("повторный вход должен выдавать новый participantId")
	}
}

func TestVerifyAccessToken(t *testing.T) {
	issuer := newTestIssuer(t)
	sprint := testSprint("", true)

	access, err := issuer.IssueAccess(sprint, "Sam", "", "")
	require.NoError(t, err)

	grant, err := issuer.VerifyAccessToken(sprint, access.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, access.ParticipantId, grant.ParticipantId)
	assert.Equal(t, "Sam", grant.Name)

	_, err = issuer.VerifyAccessToken(sprint, "not-a-token")
	assert.ErrorIs(t, err, apierrors.ErrTokenInvalid)

	// Токен другого спринта не подходит
	other := testSprint("", true)
	_, err = issuer.VerifyAccessToken(other, access.SessionToken)
	assert.ErrorIs(t, err, apierrors.ErrTokenInvalid)
}

func TestVerifyGuestTokenAfterGuestAccessDisabled(t *testing.T) {
	issuer := newTestIssuer(t)
	sprint := testSprint("", true)

	access, err := issuer.IssueAccess(sprint, "Guest", "", "")
	require.NoError(t, err)

	sprint.AllowGuestAccess = false
	_, err = issuer.VerifyAccessToken(sprint, access.SessionToken)
	assert.ErrorIs(t, err, apierrors.ErrSprintAccessDenied)
}

func TestRefreshGuestTokenAfterGuestAccessDisabled(t *testing.T) {
	issuer := newTestIssuer(t)
	sprint := testSprint("", true)

	access, err := issuer.IssueAccess(sprint, "Guest", "", "")
	require.NoError(t, err)

	// Продление смотрит на текущую политику, а не на момент выдачи
	sprint.AllowGuestAccess = false
	_, _, err = issuer.RefreshAccessToken(sprint, access.SessionToken)
	assert.ErrorIs(t, err, apierrors.ErrSprintAccessDenied)
}

func TestExpiredTokenNotRefreshable(t *testing.T) {
	issuer := newTestIssuer(t)
	sprint := testSprint("", true)

	expired, err := issuer.signGrant(sprint.Id, dao.GenID(), "Sam", types.ViewAccess, time.Now().Add(-2*types.SessionTokenExpiresPeriod))
	require.NoError(t, err)

	_, err = issuer.VerifyAccessToken(sprint, expired.SignedString)
	assert.ErrorIs(t, err, apierrors.ErrTokenExpired)

	_, _, err = issuer.RefreshAccessToken(sprint, expired.SignedString)
	assert.ErrorIs(t, err, apierrors.ErrTokenExpired)
}

func TestRefreshKeepsIdentity(t *testing.T) {
	issuer := newTestIssuer(t)
	sprint := testSprint("", true)

	access, err := issuer.IssueAccess(sprint, "Sam", "", "")
	require.NoError(t, err)

	refreshed, grant, err := issuer.RefreshAccessToken(sprint, access.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, access.ParticipantId, refreshed.ParticipantId)
	assert.Equal(t, access.AccessLevel, refreshed.AccessLevel)
	assert.Equal(t, "Sam", grant.Name)
	assert.NotEqual(t, access.SessionToken, refreshed.SessionToken)
}

func TestRevokedTokenRejected(t *testing.T) {
	issuer := newTestIssuer(t)
	sprint := testSprint("", true)

	access, err := issuer.IssueAccess(sprint, "Sam", "", "")
	require.NoError(t, err)

	require.NoError(t, issuer.RevokeAccessToken(access.SessionToken))

	_, err = issuer.VerifyAccessToken(sprint, access.SessionToken)
	assert.ErrorIs(t, err, apierrors.ErrTokenRevoked)
}
