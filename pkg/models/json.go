package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"quotagate/pkg/types"
)

// JSON column types for database storage
type (
	TierLimitsJSON   types.TierLimits
	PolicyLimitsJSON types.PolicyLimits
	KeyLimitsJSON    types.KeyLimits
	TargetsJSON      types.PolicyTargets
)

func jsonValue(v interface{}) (driver.Value, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func jsonScan(dst interface{}, value interface{}) error {
	if value == nil {
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type: %T", value)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

func (l TierLimitsJSON) Value() (driver.Value, error)  { return jsonValue(types.TierLimits(l)) }
func (l *TierLimitsJSON) Scan(value interface{}) error { return jsonScan(l, value) }

func (l PolicyLimitsJSON) Value() (driver.Value, error)  { return jsonValue(types.PolicyLimits(l)) }
func (l *PolicyLimitsJSON) Scan(value interface{}) error { return jsonScan(l, value) }

func (l KeyLimitsJSON) Value() (driver.Value, error)  { return jsonValue(types.KeyLimits(l)) }
func (l *KeyLimitsJSON) Scan(value interface{}) error { return jsonScan(l, value) }

func (t TargetsJSON) Value() (driver.Value, error)  { return jsonValue(types.PolicyTargets(t)) }
func (t *TargetsJSON) Scan(value interface{}) error { return jsonScan(t, value) }
