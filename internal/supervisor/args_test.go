package supervisor

import (
	"sort"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func baseArgs() Args {
	return Args{
		"datadir":     "/tmp/botcoin",
		"listen":      "1",
		"regtest":     "1",
		"server":      "1",
		"rpcuser":     "local",
		"rpcpassword": "localtest",
		"rpcport":     "58332",
	}
}

func TestDeriveArgs(t *testing.T) {
	primary, err := DeriveArgs(baseArgs(), 0, "/tmp/botcoin", "127.0.0.1")
	require.NoError(t, err)
	if diff := cmp.Diff(baseArgs(), primary); diff != "" {
		t.Errorf("primary args (-want +got):\n%s", diff)
	}

	second, err := DeriveArgs(baseArgs(), 2, "/tmp/botcoin", "127.0.0.1")
	require.NoError(t, err)
	want := Args{
		"datadir":     "/tmp/botcoin2",
		"listen":      "0",
		"regtest":     "1",
		"server":      "1",
		"rpcuser":     "local",
		"rpcpassword": "localtest",
		"rpcport":     "58334",
		"connect":     "127.0.0.1",
	}
	if diff := cmp.Diff(want, second); diff != "" {
		t.Errorf("peer 2 args (-want +got):\n%s", diff)
	}

	_, err = DeriveArgs(Args{"rpcport": "nope"}, 1, "/tmp/x", "127.0.0.1")
	assert.Error(t, err)
	_, err = DeriveArgs(baseArgs(), -1, "/tmp/x", "127.0.0.1")
	assert.Error(t, err)
}

func TestDeriveArgsDoesNotMutateBase(t *testing.T) {
	base := baseArgs()
	_, err := DeriveArgs(base, 3, "/tmp/botcoin", "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, baseArgs(), base)
}

func TestArgsRender(t *testing.T) {
	assert.Equal(t,
		[]string{"-a=1", "-datadir=/tmp/x", "-z="},
		Args{"z": "", "datadir": "/tmp/x", "a": "1"}.Render())
	assert.Empty(t, Args{}.Render())
}

// Every peer of a topology gets a distinct data directory and RPC port.
func TestDeriveArgsDistinctPeers(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		peers := rapid.IntRange(1, 16).Draw(t, "peers").(int)
		port := rapid.IntRange(1024, 60000).Draw(t, "port").(int)
		base := baseArgs()
		base["rpcport"] = strconv.Itoa(port)

		dirs := map[string]bool{}
		ports := map[string]bool{}
		for i := 0; i < peers; i++ {
			args, err := DeriveArgs(base, i, "/tmp/botcoin", "127.0.0.1")
			if err != nil {
				t.Fatalf("peer %d: %v", i, err)
			}
			if dirs[args["datadir"]] || ports[args["rpcport"]] {
				t.Fatalf("peer %d reuses %s or %s", i, args["datadir"], args["rpcport"])
			}
			dirs[args["datadir"]] = true
			ports[args["rpcport"]] = true

			rendered := args.Render()
			if !sort.StringsAreSorted(rendered) {
				t.Fatalf("unsorted flags %v", rendered)
			}
			for _, flag := range rendered {
				if !strings.HasPrefix(flag, "-") || !strings.Contains(flag, "=") {
					t.Fatalf("malformed flag %q", flag)
				}
			}
			if (i == 0) != (args["listen"] == "1") {
				t.Fatalf("peer %d listen=%s", i, args["listen"])
			}
		}
	})
}
