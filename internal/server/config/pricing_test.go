package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

const plansYAML = `
version: "1.1"
pricingPlans:
  - {name: Free, maxStorage: 1KB, serviceDays: -1, amount: 0, currency: ELA}
  - {name: Pro, maxStorage: 5 GB, serviceDays: 10, amount: 3.5, currency: ELA}
backupPlans:
  - {name: Free, maxStorage: 500MB, serviceDays: -1, amount: 0, currency: ELA}
`

func TestParsePlans(t *testing.T) {
	p, err := ParsePlans([]byte(plansYAML))
	require.NoError(t, err)

	assert.Equal(t, "1.1", p.Version)
	free := p.FreeVaultPlan()
	assert.Equal(t, ByteSize(1000), free.MaxStorage)
	assert.True(t, free.IsFree())
	assert.Equal(t, int64(-1), free.EndsAt(100))

	pro, err := p.VaultPlan("pro")
	require.NoError(t, err)
	assert.Equal(t, ByteSize(5_000_000_000), pro.MaxStorage)
	assert.Equal(t, int64(100+10*86400), pro.EndsAt(100))
	assert.False(t, pro.IsFree())

	_, err = p.BackupPlan("Pro")
	assert.True(t, errors.Is(err, common.ErrorNotFound))
	assert.Equal(t, common.CodePricePlanNotFound, common.CodeOf(err))

	assert.Equal(t, ByteSize(500_000_000), p.FreeBackupPlan().MaxStorage)
}

func TestParsePlans_Errors(t *testing.T) {
	_, err := ParsePlans([]byte(`pricingPlans: [{name: Pro, maxStorage: 1GB}]
backupPlans: [{name: Free, maxStorage: 1GB}]`))
	assert.ErrorContains(t, err, "pricingPlans has no Free plan")

	_, err = ParsePlans([]byte(`pricingPlans: [{name: Free, maxStorage: lots}]`))
	assert.ErrorContains(t, err, "maxStorage")
}

func TestLoadPlans(t *testing.T) {
	p, err := LoadPlans("")
	require.NoError(t, err)
	assert.Len(t, p.PricingPlans, 3)
	assert.Equal(t, ByteSize(500_000_000), p.FreeVaultPlan().MaxStorage)

	path := filepath.Join(t.TempDir(), "plans.yaml")
	require.NoError(t, os.WriteFile(path, []byte(plansYAML), 0o600))
	p, err = LoadPlans(path)
	require.NoError(t, err)
	assert.Equal(t, "1.1", p.Version)

	_, err = LoadPlans(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
