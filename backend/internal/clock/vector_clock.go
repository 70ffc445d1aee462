package clock

import (
	"encoding/json"
	"fmt"
)

// 向量时钟：按 userID 维护逻辑计数器，用于判断操作间的因果关系
type VectorClock map[string]int64

func New() VectorClock {
	return make(VectorClock)
}

// Increment 递增指定用户的分量（该用户每产生一个操作调用一次）
func (vc VectorClock) Increment(userID string) {
	vc[userID]++
}

// Merge 合并另一个时钟：逐分量取最大值
func (vc VectorClock) Merge(other VectorClock) {
	for userID, tick := range other {
		if vc[userID] < tick {
			vc[userID] = tick
		}
	}
}

func (vc VectorClock) Copy() VectorClock {
	dup := make(VectorClock, len(vc))
	for k, v := range vc {
		dup[k] = v
	}
	return dup
}

// Compare 比较两个向量时钟的因果关系
// 返回 -1: vc 先于 other；1: vc 后于 other；0: 并发（相等也视为并发，由调用方用确定性规则打破平局）
func (vc VectorClock) Compare(other VectorClock) int {
	hasLess := false
	hasGreater := false

	// 两边出现过的 userID 都要比
	keys := make(map[string]struct{}, len(vc)+len(other))
	for k := range vc {
		keys[k] = struct{}{}
	}
	for k := range other {
		keys[k] = struct{}{}
	}

	for k := range keys {
		a, b := vc[k], other[k]
		if a < b {
			hasLess = true
		} else if a > b {
			hasGreater = true
		}
	}

	switch {
	case hasLess && hasGreater:
		return 0
	case hasLess:
		return -1
	case hasGreater:
		return 1
	}
	return 0
}

// Concurrent 判断两个时钟是否并发（互不支配）
func (vc VectorClock) Concurrent(other VectorClock) bool {
	return vc.Compare(other) == 0
}

// HappensBefore 判断 vc 是否因果先于 other
func (vc VectorClock) HappensBefore(other VectorClock) bool {
	return vc.Compare(other) == -1
}

// Dominates 判断 vc 是否已观察到 other 的全部分量
func (vc VectorClock) Dominates(other VectorClock) bool {
	return other.Compare(vc) == -1
}

func (vc VectorClock) String() string {
	data, _ := json.Marshal(vc)
	return string(data)
}

func Parse(s string) (VectorClock, error) {
	var vc VectorClock
	if err := json.Unmarshal([]byte(s), &vc); err != nil {
		return nil, fmt.Errorf("parse vector clock: %w", err)
	}
	return vc, nil
}
