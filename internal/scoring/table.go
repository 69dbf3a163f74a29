package scoring

import (
	"fmt"
	"strings"

	xerrors "ConfidentialLedger/internal/errors"
)

// Weight 为单个布尔输入关联的明文权重。
type Weight struct {
	Name  string `json:"name" yaml:"name"`
	Value uint64 `json:"value" yaml:"value"`
}

// Table 描述评分函数：从 Base 出发，按顺序累加输入为真的权重。
type Table struct {
	Base       uint64   `json:"base" yaml:"base"`
	Weights    []Weight `json:"weights" yaml:"weights"`
	OutputBits uint     `json:"output_bits" yaml:"output_bits"`
}

// DefaultTable 返回参考权重表。
func DefaultTable() Table {
	return Table{
		Base: 50,
		Weights: []Weight{
			{Name: "career", Value: 15},
			{Name: "skill", Value: 20},
			{Name: "education", Value: 15},
		},
		OutputBits: 8,
	}
}

// Capacity 返回输出位宽可表示的最大值。
func (t Table) Capacity() uint64 {
	if t.OutputBits == 0 || t.OutputBits > 32 {
		return 0
	}
	return (uint64(1) << t.OutputBits) - 1
}

// Max 返回全部输入为真时的得分。
func (t Table) Max() uint64 {
	total := t.Base
	for _, w := range t.Weights {
		total += w.Value
	}
	return total
}

// Names 按表顺序返回输入名称。
func (t Table) Names() []string {
	names := make([]string, len(t.Weights))
	for i, w := range t.Weights {
		names[i] = w.Name
	}
	return names
}

// Validate 在启动阶段检查权重表，保证运行时累加不会溢出输出位宽。
func (t Table) Validate() error {
	if t.OutputBits == 0 || t.OutputBits > 32 {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("输出位宽 %d 必须位于 1..32", t.OutputBits))
	}
	if len(t.Weights) == 0 {
		return xerrors.New(xerrors.CodeConfiguration, "权重表为空")
	}
	capacity := t.Capacity()
	seen := make(map[string]struct{}, len(t.Weights))
	total := t.Base
	if total > capacity {
		return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("基础分 %d 超过输出容量 %d", t.Base, capacity))
	}
	for i, w := range t.Weights {
		name := strings.TrimSpace(w.Name)
		if name == "" {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("第 %d 个权重缺少名称", i))
		}
		if _, dup := seen[name]; dup {
			return xerrors.New(xerrors.CodeConfiguration, fmt.Sprintf("权重名称重复: %s", name))
		}
		seen[name] = struct{}{}
		// 逐项比较剩余容量，避免 uint64 累加回绕。
		if w.Value > capacity-total {
			return xerrors.New(xerrors.CodeConfiguration,
				fmt.Sprintf("基础分与权重之和超过输出容量 %d", capacity),
				xerrors.WithMetadata("weight", name))
		}
		total += w.Value
	}
	return nil
}
