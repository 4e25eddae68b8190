package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"

	"github.com/dmitrijs2005/hivenode/internal/common"
)

// FreePlanName must exist in both plan lists.
const FreePlanName = "Free"

const secondsPerDay = 24 * 60 * 60

// ByteSize is a storage amount written in YAML as a human string ("500MB").
type ByteSize int64

func (b *ByteSize) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	n, err := humanize.ParseBytes(s)
	if err != nil {
		return fmt.Errorf("maxStorage %q: %w", s, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) MarshalYAML() (any, error) {
	return humanize.Bytes(uint64(b)), nil
}

func (b ByteSize) String() string { return humanize.Bytes(uint64(b)) }

// Plan is one subscription offer. ServiceDays < 0 means the plan never ends.
type Plan struct {
	Name        string   `yaml:"name" json:"name"`
	MaxStorage  ByteSize `yaml:"maxStorage" json:"maxStorage"`
	ServiceDays int      `yaml:"serviceDays" json:"serviceDays"`
	Amount      float64  `yaml:"amount" json:"amount"`
	Currency    string   `yaml:"currency" json:"currency"`
}

// EndsAt returns the end of a subscription started at now (unix seconds),
// or -1 for plans without an end.
func (p Plan) EndsAt(now int64) int64 {
	if p.ServiceDays < 0 {
		return -1
	}
	return now + int64(p.ServiceDays)*secondsPerDay
}

// IsFree reports whether the plan costs nothing.
func (p Plan) IsFree() bool { return p.Amount == 0 }

// Plans is the pricing document served by /subscription/pricing_plan.
type Plans struct {
	Version      string `yaml:"version" json:"version"`
	PricingPlans []Plan `yaml:"pricingPlans" json:"pricingPlans,omitempty"`
	BackupPlans  []Plan `yaml:"backupPlans" json:"backupPlans,omitempty"`
}

// DefaultPlans are used when no pricing file is configured.
func DefaultPlans() *Plans {
	plans := []Plan{
		{Name: FreePlanName, MaxStorage: 500 * humanize.MByte, ServiceDays: -1, Amount: 0, Currency: "ELA"},
		{Name: "Rookie", MaxStorage: 2 * humanize.GByte, ServiceDays: 30, Amount: 2.5, Currency: "ELA"},
		{Name: "Advanced", MaxStorage: 50 * humanize.GByte, ServiceDays: 30, Amount: 10, Currency: "ELA"},
	}
	backup := make([]Plan, len(plans))
	copy(backup, plans)
	return &Plans{Version: "1.0", PricingPlans: plans, BackupPlans: backup}
}

// LoadPlans reads a pricing YAML file, or returns DefaultPlans for "".
func LoadPlans(path string) (*Plans, error) {
	if path == "" {
		return DefaultPlans(), nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParsePlans(raw)
}

// ParsePlans decodes and checks a pricing document.
func ParsePlans(raw []byte) (*Plans, error) {
	var p Plans
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("pricing plans: %w", err)
	}
	for kind, list := range map[string][]Plan{"pricingPlans": p.PricingPlans, "backupPlans": p.BackupPlans} {
		if _, ok := find(list, FreePlanName); !ok {
			return nil, fmt.Errorf("pricing plans: %s has no %s plan", kind, FreePlanName)
		}
	}
	return &p, nil
}

func find(list []Plan, name string) (Plan, bool) {
	for _, p := range list {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Plan{}, false
}

// VaultPlan looks a vault plan up by name.
func (p *Plans) VaultPlan(name string) (Plan, error) {
	if plan, ok := find(p.PricingPlans, name); ok {
		return plan, nil
	}
	return Plan{}, common.NotFound(common.CodePricePlanNotFound, "pricing plan %s not found", name)
}

// BackupPlan looks a backup plan up by name.
func (p *Plans) BackupPlan(name string) (Plan, error) {
	if plan, ok := find(p.BackupPlans, name); ok {
		return plan, nil
	}
	return Plan{}, common.NotFound(common.CodePricePlanNotFound, "backup plan %s not found", name)
}

// FreeVaultPlan is the plan new and downgraded vaults get.
func (p *Plans) FreeVaultPlan() Plan {
	plan, _ := find(p.PricingPlans, FreePlanName)
	return plan
}

// FreeBackupPlan is the plan new backup services get.
func (p *Plans) FreeBackupPlan() Plan {
	plan, _ := find(p.BackupPlans, FreePlanName)
	return plan
}
