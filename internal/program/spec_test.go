package program

import (
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
func boolPtr(b bool) *bool    { return &b }

func TestValidateAppliesDefaults(t *testing.T) {
	raw := Raw{Command: strPtr("sleep 60")}

	spec, err := raw.Validate("alpha")
	require.NoError(t, err)

	require.Equal(t, []string{"sleep", "60"}, spec.Command)
	require.Equal(t, 1, spec.NumProcs)
	require.True(t, spec.AutoStart)
	require.Equal(t, AutorestartUnexpected, spec.AutoRestart)
	require.Equal(t, map[int]struct{}{0: {}}, spec.ExitCodes)
	require.Equal(t, 1, spec.StartSecs)
	require.Equal(t, 3, spec.StartRetries)
	require.Equal(t, syscall.SIGTERM, spec.StopSignal)
	require.Equal(t, 10, spec.StopWaitSecs)
	require.Equal(t, "AUTO", spec.StdoutLogfile)
	require.Equal(t, "AUTO", spec.StderrLogfile)
	require.Empty(t, spec.Environment)
	require.Nil(t, spec.Umask)
}

func TestValidateRequiresCommand(t *testing.T) {
	_, err := Raw{}.Validate("alpha")
	require.Error(t, err)
}

func TestValidateRejectsBadNumProcs(t *testing.T) {
	raw := Raw{Command: strPtr("true"), NumProcs: intPtr(0)}
	_, err := raw.Validate("alpha")
	require.Error(t, err)
}

func TestValidateRejectsBadAutorestart(t *testing.T) {
	raw := Raw{Command: strPtr("true"), AutoRestart: strPtr("sometimes")}
	_, err := raw.Validate("alpha")
	require.Error(t, err)
}

func TestValidateCustomExitCodes(t *testing.T) {
	raw := Raw{Command: strPtr("sh -c 'exit 7'"), ExitCodes: []int{7}}
	spec, err := raw.Validate("sometimes")
	require.NoError(t, err)
	require.Equal(t, map[int]struct{}{7: {}}, spec.ExitCodes)
}

func TestValidateUmaskAcceptsOctalForms(t *testing.T) {
	for _, val := range []string{"022", "0o022", "0O022"} {
		raw := Raw{Command: strPtr("true"), Umask: strPtr(val)}
		spec, err := raw.Validate("alpha")
		require.NoError(t, err, val)
		require.NotNil(t, spec.Umask)
		require.Equal(t, 0o022, *spec.Umask)
	}
}

func TestValidateUmaskRejectsOutOfRange(t *testing.T) {
	raw := Raw{Command: strPtr("true"), Umask: strPtr("1000")}
	_, err := raw.Validate("alpha")
	require.Error(t, err)
}

func TestValidateRejectsNegativeDurations(t *testing.T) {
	for _, raw := range []Raw{
		{Command: strPtr("true"), StartSecs: intPtr(-1)},
		{Command: strPtr("true"), StartRetries: intPtr(-1)},
		{Command: strPtr("true"), StopWaitSecs: intPtr(-1)},
	} {
		_, err := raw.Validate("alpha")
		require.Error(t, err)
	}
}

func TestValidateBoundaryZeroDurations(t *testing.T) {
	raw := Raw{Command: strPtr("true"), StartSecs: intPtr(0), StopWaitSecs: intPtr(0)}
	spec, err := raw.Validate("alpha")
	require.NoError(t, err)
	require.Equal(t, 0, spec.StartSecs)
	require.Equal(t, 0, spec.StopWaitSecs)
}

func TestValidateOverridesAutoStart(t *testing.T) {
	raw := Raw{Command: strPtr("true"), AutoStart: boolPtr(false)}
	spec, err := raw.Validate("alpha")
	require.NoError(t, err)
	require.False(t, spec.AutoStart)
}

func TestValidateAcceptsSentinelLogfiles(t *testing.T) {
	raw := Raw{Command: strPtr("true"), StdoutLogfile: strPtr("AUTO"), StderrLogfile: strPtr("NONE")}
	_, err := raw.Validate("alpha")
	require.NoError(t, err)
}

func TestValidateAcceptsExistingLogfileDirectory(t *testing.T) {
	dir := t.TempDir()
	raw := Raw{Command: strPtr("true"), StdoutLogfile: strPtr(filepath.Join(dir, "alpha.out"))}
	spec, err := raw.Validate("alpha")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "alpha.out"), spec.StdoutLogfile)
}

func TestValidateRejectsNonExistentLogfileDirectory(t *testing.T) {
	raw := Raw{Command: strPtr("true"), StdoutLogfile: strPtr("/no/such/directory/alpha.out")}
	_, err := raw.Validate("alpha")
	require.Error(t, err)

	raw = Raw{Command: strPtr("true"), StderrLogfile: strPtr("/no/such/directory/alpha.err")}
	_, err = raw.Validate("alpha")
	require.Error(t, err)
}
