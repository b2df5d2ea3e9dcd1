package modconfig

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadParsesSubnetSections(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subnets.ini")
	content := "[subnet.0]\nscm = 0\ncdm = 1\nmam = 2\n\n[subnet.1]\nscm = 0\ncdm = 0x10\nmam = 0x11\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, SubnetModules{SCM: 0, CDM: 1, MAM: 2}, m[0])
	assert.Equal(t, SubnetModules{SCM: 0, CDM: 0x10, MAM: 0x11}, m[1])
}

func TestLoadRejectsMissingKey(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "subnets.ini")
	require.NoError(t, os.WriteFile(path, []byte("[subnet.0]\nscm = 0\ncdm = 1\n"), 0o644))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.ini"))
	assert.Error(t, err)
}
