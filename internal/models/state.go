package models

import "time"

// Account 定义了需要持久化的账户数据
type Account struct {
	Cash      float64   `json:"cash"`      // 当前现金余额
	Symbol    string    `json:"symbol"`    // 活跃交易对
	Price     float64   `json:"price"`     // 活跃交易对的最新价格
	UpdatedAt time.Time `json:"updatedAt"` // 最后更新时间
}

// Snapshot 是热启动时从持久化层恢复的完整状态
type Snapshot struct {
	Account *Account       // 可能为空：旧数据或从未写入账户节点
	Open    []Position     // 未平仓位，按 ID 升序
	History []ClosedRecord // 历史记录，最近平仓的在前
}

// MaxID 返回快照中出现过的最大仓位 ID
func (s *Snapshot) MaxID() int64 {
	var maxID int64
	for _, p := range s.Open {
		if p.ID > maxID {
			maxID = p.ID
		}
	}
	for _, r := range s.History {
		if r.ID > maxID {
			maxID = r.ID
		}
	}
	return maxID
}

// Empty 表示没有任何可恢复的数据
func (s *Snapshot) Empty() bool {
	return s == nil || (s.Account == nil && len(s.Open) == 0 && len(s.History) == 0)
}
