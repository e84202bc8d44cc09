package order

import "testing"

func TestHappyPathTransitions(t *testing.T) {
	m := NewMachine()
	path := []State{StateNormalized, StateSubmitted, StateFilled, StatePositionOpen, StatePositionClosed}
	for _, s := range path {
		if err := m.Transition(s); err != nil {
			t.Fatalf("流转到 %s 失败: %v", s, err)
		}
	}
	if m.Current() != StatePositionClosed {
		t.Errorf("最终状态错误: %s", m.Current())
	}
}

func TestNoBackwardTransition(t *testing.T) {
	m := NewMachine()
	m.Transition(StateNormalized)
	m.Transition(StateSubmitted)
	m.Transition(StateFilled)

	if err := m.Transition(StateSubmitted); err == nil {
		t.Error("状态不允许回退")
	}
	if m.Current() != StateFilled {
		t.Errorf("非法流转不应改变状态，实际 %s", m.Current())
	}
}

func TestTerminalStatesBlockFurtherTransitions(t *testing.T) {
	m := NewMachine()
	m.Transition(StateRejected)
	if !m.Current().IsTerminal() {
		t.Error("REJECTED 应为终态")
	}
	if err := m.Transition(StateNormalized); err == nil {
		t.Error("终态后不允许继续流转")
	}
}

func TestPartialFillCanComplete(t *testing.T) {
	m := NewMachine()
	m.Transition(StateNormalized)
	m.Transition(StateSubmitted)
	if err := m.Transition(StatePartiallyFilled); err != nil {
		t.Fatalf("流转到部分成交失败: %v", err)
	}
	if err := m.Transition(StateFilled); err != nil {
		t.Fatalf("部分成交应可补全为全部成交: %v", err)
	}
}

func TestUnknownOutcomeResolvedLater(t *testing.T) {
	m := NewMachine()
	m.Transition(StateNormalized)
	m.Transition(StateSubmitted)
	if err := m.Transition(StateUnknown); err != nil {
		t.Fatalf("提交超时应可进入 UNKNOWN: %v", err)
	}
	if err := m.Transition(StateFilled); err != nil {
		t.Fatalf("对账后 UNKNOWN 应可落定为成交: %v", err)
	}
}

// 保护腿失败不影响父单：各自独立的状态机
func TestLegFailureIsIsolated(t *testing.T) {
	parent := NewMachine()
	parent.Transition(StateNormalized)
	parent.Transition(StateSubmitted)
	parent.Transition(StateFilled)

	leg := NewMachine()
	leg.Transition(StateNormalized)
	if err := leg.Transition(StateFailed); err != nil {
		t.Fatalf("腿状态机应可进入 FAILED: %v", err)
	}

	if parent.Current() != StateFilled {
		t.Error("腿失败不应回滚父单状态")
	}
	if err := parent.Transition(StatePositionOpen); err != nil {
		t.Errorf("父单应继续正常推进: %v", err)
	}
}
