// Package demo 一个最小的宿主应用：用户和订单两个服务，带代理、枚举和缓存声明，
// serve 命令和接口测试都以它作为被测应用。
package demo

import "time"

// Level 会员等级
type Level int

const (
	LevelNormal Level = iota
	LevelSilver
	LevelGold
)

func (l Level) String() string {
	switch l {
	case LevelSilver:
		return "SILVER"
	case LevelGold:
		return "GOLD"
	default:
		return "NORMAL"
	}
}

// Levels 枚举常量表
var Levels = map[string]Level{
	"NORMAL": LevelNormal,
	"SILVER": LevelSilver,
	"GOLD":   LevelGold,
}

// User 用户
type User struct {
	ID       int64     `json:"id"`
	Name     string    `json:"name"`
	Level    Level     `json:"level"`
	Tags     []string  `json:"tags,omitempty"`
	Birthday time.Time `json:"birthday"`
}

// Order 订单
type Order struct {
	ID     string  `json:"id"`
	UserID int64   `json:"userId"`
	Amount float64 `json:"amount"`
}
