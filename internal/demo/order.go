package demo

import (
	"errors"
	"fmt"
	"sync"

	"github.com/duke-git/lancet/v2/random"

	"yqhp/testkit/pkg/proxy"
)

// ErrEmptyOrder 金额不合法
var ErrEmptyOrder = errors.New("order amount must be positive")

// OrderService 订单服务
type OrderService interface {
	Place(userID int64, amount float64) (*Order, error)
	Total(userID int64) float64
}

type orderService struct {
	Users *UserService `inject:""`

	mu     sync.Mutex
	orders map[int64][]*Order
}

func newOrderService() *orderService {
	return &orderService{orders: make(map[int64][]*Order)}
}

func (s *orderService) Place(userID int64, amount float64) (*Order, error) {
	if amount <= 0 {
		return nil, ErrEmptyOrder
	}
	if _, ok := s.Users.Repo.Find(userID); !ok {
		return nil, fmt.Errorf("user %d not found", userID)
	}
	o := &Order{ID: random.RandNumeralOrLetter(12), UserID: userID, Amount: amount}
	s.mu.Lock()
	s.orders[userID] = append(s.orders[userID], o)
	s.mu.Unlock()
	return o, nil
}

func (s *orderService) Total(userID int64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total float64
	for _, o := range s.orders[userID] {
		total += o.Amount
	}
	return total
}

// txOrderService 接口代理，模拟事务切面：Place 失败时记录回滚次数
type txOrderService struct {
	target    OrderService
	mu        sync.Mutex
	rollbacks int
}

func (p *txOrderService) ProxyKind() proxy.Kind { return proxy.KindInterface }

func (p *txOrderService) Target() any { return p.target }

func (p *txOrderService) Place(userID int64, amount float64) (*Order, error) {
	o, err := p.target.Place(userID, amount)
	if err != nil {
		p.mu.Lock()
		p.rollbacks++
		p.mu.Unlock()
	}
	return o, err
}

func (p *txOrderService) Total(userID int64) float64 {
	return p.target.Total(userID)
}

// Rollbacks 代理记录的回滚次数
func (p *txOrderService) Rollbacks() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rollbacks
}
