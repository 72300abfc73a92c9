package datamarket

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenAddr  = common.HexToAddress("0xe78A0F7E598Cc8b0Bb87894B0F60dD2a88d6a8Ab")
	reviewAddr = common.HexToAddress("0x5b1869D9A4C187F2EAa108f3062412ecf0526b24")
	bundleAddr = common.HexToAddress("0xCfEB869F69431e42cdB54A4F4f105C19C080A601")
)

func sampleRegistry() *Registry {
	r := NewRegistry()
	r.Set(ContractMyToken, tokenAddr)
	r.Set(ContractDataReview, reviewAddr)
	r.Set(ContractDataBundle, bundleAddr)
	return r
}

func TestRegistry_Order(t *testing.T) {
	r := sampleRegistry()
	r.Set(ContractMyToken, bundleAddr)

	entries := r.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, ContractMyToken, entries[0].Name, "re-setting keeps position")
	assert.Equal(t, bundleAddr, entries[0].Address)
	assert.Equal(t, ContractDataReview, entries[1].Name)
	assert.Equal(t, ContractDataBundle, entries[2].Name)

	_, ok := r.Get("Missing")
	assert.False(t, ok)
}

func TestRegistry_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(sampleRegistry())
	require.NoError(t, err)
	want := fmt.Sprintf(`{"MyToken":%q,"DataReview":%q,"DataBundle":%q}`,
		tokenAddr.Hex(), reviewAddr.Hex(), bundleAddr.Hex())
	assert.Equal(t, want, string(data))

	empty, err := json.Marshal(NewRegistry())
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(empty))
}

func TestRegistry_Save(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", DefaultOutputFile)
	require.NoError(t, sampleRegistry().Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	want := fmt.Sprintf("{\n    \"MyToken\": %q,\n    \"DataReview\": %q,\n    \"DataBundle\": %q\n}\n",
		tokenAddr.Hex(), reviewAddr.Hex(), bundleAddr.Hex())
	assert.Equal(t, want, string(data))

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temporary file is renamed away")
}

func TestRegistry_SaveOverwrites(t *testing.T) {
	path := testOutputPath(t)
	require.NoError(t, os.WriteFile(path, []byte(`{"Stale":"0x0000000000000000000000000000000000000001"}`), 0644))

	r := NewRegistry()
	r.Set(ContractMyToken, tokenAddr)
	require.NoError(t, r.Save(path))

	loaded, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, 1, loaded.Len())
	_, ok := loaded.Get("Stale")
	assert.False(t, ok)
}

func TestRegistry_SaveError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	err := sampleRegistry().Save(filepath.Join(blocker, DefaultOutputFile))
	require.ErrorIs(t, err, ErrRegistryPersist)
}

func TestLoadRegistry(t *testing.T) {
	path := testOutputPath(t)
	require.NoError(t, sampleRegistry().Save(path))

	r, err := LoadRegistry(path)
	require.NoError(t, err)
	assert.Equal(t, sampleRegistry().Entries(), r.Entries())
}

func TestLoadRegistry_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"array", `["MyToken"]`},
		{"bad address", `{"MyToken":"0x1234"}`},
		{"non-string address", `{"MyToken":42}`},
		{"truncated", `{"MyToken":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := testOutputPath(t)
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0644))
			_, err := LoadRegistry(path)
			assert.Error(t, err)
		})
	}

	_, err := LoadRegistry(filepath.Join(t.TempDir(), "absent.json"))
	assert.True(t, os.IsNotExist(err))
}
