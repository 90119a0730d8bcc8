package program

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSignalAcceptsVariousForms(t *testing.T) {
	for _, name := range []string{"SIGTERM", "sigterm", "TERM", "term"} {
		sig, err := ParseSignal(name)
		require.NoError(t, err, name)
		require.Equal(t, syscall.SIGTERM, sig)
	}
}

func TestParseSignalUnknown(t *testing.T) {
	_, err := ParseSignal("BOGUS")
	require.Error(t, err)
}

func TestSignalNameRoundTrip(t *testing.T) {
	require.Equal(t, "SIGTERM", SignalName(syscall.SIGTERM))
}

func TestSignalNameFallsBackToNumeric(t *testing.T) {
	require.Equal(t, "signal(31)", SignalName(syscall.Signal(31)))
}
