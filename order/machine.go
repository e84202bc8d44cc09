package order

import (
	"fmt"
	"sync"
)

// State 订单生命周期状态
type State string

const (
	StateIntent          State = "INTENT"           // 收到下单意图
	StateNormalized      State = "NORMALIZED"       // 精度规范化完成
	StateSubmitted       State = "SUBMITTED"        // 已提交交易所
	StateFilled          State = "FILLED"           // 全部成交
	StatePartiallyFilled State = "PARTIALLY_FILLED" // 部分成交
	StateRejected        State = "REJECTED"         // 交易所拒绝或前置校验失败
	StateCanceled        State = "CANCELED"         // 已取消
	StateUnknown         State = "UNKNOWN"          // 提交超时，结果不明，等待对账
	StateFailed          State = "FAILED"           // 保护腿挂单失败，仅腿状态机可达
	StatePositionOpen    State = "POSITION_OPEN"    // 仓位已建立
	StatePositionClosed  State = "POSITION_CLOSED"  // 仓位已平
)

// IsTerminal 判断是否为终态
func (s State) IsTerminal() bool {
	switch s {
	case StateRejected, StateCanceled, StateFailed, StatePositionClosed:
		return true
	}
	return false
}

// 状态只能沿生命周期单向推进，不允许回退
var transitions = map[State][]State{
	StateIntent:          {StateNormalized, StateRejected},
	StateNormalized:      {StateSubmitted, StateRejected, StateFailed},
	StateSubmitted:       {StateFilled, StatePartiallyFilled, StateRejected, StateCanceled, StateUnknown, StateFailed},
	StatePartiallyFilled: {StateFilled, StateCanceled},
	StateFilled:          {StatePositionOpen},
	StateUnknown:         {StateFilled, StatePartiallyFilled, StateRejected, StateCanceled},
	StatePositionOpen:    {StatePositionClosed},
}

// Machine 订单状态机
// 入场单与保护腿各持有独立实例，腿失败不回滚父单状态
type Machine struct {
	mu    sync.Mutex
	state State
}

// NewMachine 从 INTENT 状态创建状态机
func NewMachine() *Machine {
	return &Machine{state: StateIntent}
}

// Current 当前状态
func (m *Machine) Current() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Transition 推进状态，不允许的流转返回错误且状态不变
func (m *Machine) Transition(to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, allowed := range transitions[m.state] {
		if allowed == to {
			m.state = to
			return nil
		}
	}
	return fmt.Errorf("不允许的状态流转: %s -> %s", m.state, to)
}
