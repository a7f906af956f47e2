package supervisor

import (
	"fmt"
	"sort"
	"strconv"
)

// Args is a set of -key=value command line flags.
type Args map[string]string

// Clone returns a copy of a.
func (a Args) Clone() Args {
	out := make(Args, len(a))
	for k, v := range a {
		out[k] = v
	}
	return out
}

// Render returns the flags as -key=value, sorted by key.
func (a Args) Render() []string {
	keys := make([]string, 0, len(a))
	for k := range a {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, fmt.Sprintf("-%s=%s", k, a[k]))
	}
	return out
}

// PeerDataDir returns the data directory of peer index. The primary peer
// uses base as is.
func PeerDataDir(base string, index int) string {
	if index == 0 {
		return base
	}
	return base + strconv.Itoa(index)
}

// DeriveArgs returns the flags of peer index in a topology. The primary
// peer (index 0) runs with base unchanged apart from its data directory.
// Every other peer gets its own data directory and RPC port, does not
// listen, and connects out to connectAddress.
func DeriveArgs(base Args, index int, dataDir, connectAddress string) (Args, error) {
	if index < 0 {
		return nil, fmt.Errorf("negative peer index %d", index)
	}
	args := base.Clone()
	args["datadir"] = PeerDataDir(dataDir, index)
	if index == 0 {
		return args, nil
	}

	port, err := strconv.Atoi(base["rpcport"])
	if err != nil {
		return nil, fmt.Errorf("base rpcport %q: %w", base["rpcport"], err)
	}
	args["listen"] = "0"
	args["rpcport"] = strconv.Itoa(port + index)
	args["connect"] = connectAddress
	return args, nil
}
