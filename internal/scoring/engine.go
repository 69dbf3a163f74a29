package scoring

import (
	"fmt"

	xerrors "ConfidentialLedger/internal/errors"
	"ConfidentialLedger/internal/fhe"
)

// Engine 仅通过 Const、Select、Add 组合出加密得分。
type Engine struct {
	algebra fhe.Algebra
	table   Table
	output  fhe.Type
}

// NewEngine 校验权重表并创建评分引擎。
func NewEngine(algebra fhe.Algebra, table Table) (*Engine, error) {
	if algebra == nil {
		return nil, xerrors.New(xerrors.CodeConfiguration, "评分引擎缺少密文代数实现")
	}
	if err := table.Validate(); err != nil {
		return nil, err
	}
	output, _ := fhe.TypeForBits(table.OutputBits)
	return &Engine{algebra: algebra, table: table, output: output}, nil
}

// OutputType 返回得分密文的类型。
func (e *Engine) OutputType() fhe.Type {
	return e.output
}

// Table 返回引擎使用的权重表。
func (e *Engine) Table() Table {
	return e.table
}

// Score 按表顺序累加 Select(input_i, w_i, 0)，全程不观察明文。
func (e *Engine) Score(inputs []*fhe.Ciphertext) (*fhe.Ciphertext, error) {
	if len(inputs) != len(e.table.Weights) {
		return nil, xerrors.New(xerrors.CodeInvalidArgument,
			fmt.Sprintf("需要 %d 个输入，实际 %d 个", len(e.table.Weights), len(inputs)))
	}
	for i, in := range inputs {
		if in == nil || in.Type() != fhe.TypeBool {
			return nil, xerrors.New(fhe.CodeTypeMismatch, fmt.Sprintf("输入 %s 必须为 ebool", e.table.Weights[i].Name))
		}
	}

	total, err := e.algebra.Const(e.output, e.table.Base)
	if err != nil {
		return nil, err
	}
	zero, err := e.algebra.Const(e.output, 0)
	if err != nil {
		return nil, err
	}
	for i, w := range e.table.Weights {
		weight, err := e.algebra.Const(e.output, w.Value)
		if err != nil {
			return nil, err
		}
		picked, err := e.algebra.Select(inputs[i], weight, zero)
		if err != nil {
			return nil, err
		}
		if total, err = e.algebra.Add(total, picked); err != nil {
			return nil, err
		}
	}
	return total, nil
}
