package passphrase

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func scripted(envVar string, answers ...string) *Source {
	s := NewSource(envVar)
	s.prompt = &bytes.Buffer{}
	s.interactive = func() bool { return true }
	s.readSecret = func() ([]byte, error) {
		if len(answers) == 0 {
			return nil, errors.New("no more input")
		}
		next := answers[0]
		answers = answers[1:]
		return []byte(next), nil
	}
	return s
}

func TestSourcePrefersEnvironment(t *testing.T) {
	t.Setenv("FLUX_TEST_PASS", "from-env")
	s := scripted("FLUX_TEST_PASS")
	value, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "from-env", value)
}

func TestSourceRejectsBlankEnvironment(t *testing.T) {
	t.Setenv("FLUX_TEST_PASS", "   ")
	_, err := scripted("FLUX_TEST_PASS").Get()
	require.ErrorContains(t, err, "set but empty")
}

func TestSourcePromptsAndCaches(t *testing.T) {
	s := scripted("FLUX_TEST_PASS_UNSET", "hunter2")
	value, err := s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)

	// The second call must not prompt again.
	value, err = s.Get()
	require.NoError(t, err)
	require.Equal(t, "hunter2", value)
}

func TestSourceConfirmation(t *testing.T) {
	value, err := scripted("", "s3cret", "s3cret").WithConfirmation().Get()
	require.NoError(t, err)
	require.Equal(t, "s3cret", value)

	_, err = scripted("", "s3cret", "typo").WithConfirmation().Get()
	require.ErrorIs(t, err, ErrMismatch)

	_, err = scripted("", "  ").Get()
	require.ErrorContains(t, err, "cannot be empty")
}

func TestSourceWithoutTerminal(t *testing.T) {
	s := scripted("FLUX_TEST_PASS_UNSET")
	s.interactive = func() bool { return false }
	_, err := s.Get()
	require.ErrorContains(t, err, "FLUX_TEST_PASS_UNSET")
}
