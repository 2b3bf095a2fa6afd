package repository

import (
	"errors"
	"strings"
	"time"

	"github.com/sketchpay/payment-gateway/internal/constants"
	"github.com/sketchpay/payment-gateway/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// OrderRepository 订单数据访问接口
type OrderRepository interface {
	Create(order *models.Order) error
	GetByOrderNo(orderNo string) (*models.Order, error)
	UpdateStatus(orderNo string, status string, providerTradeNo string) (*models.Order, error)
}

// GormOrderRepository GORM 实现
type GormOrderRepository struct {
	db *gorm.DB
}

// NewOrderRepository 创建订单仓库
func NewOrderRepository(db *gorm.DB) *GormOrderRepository {
	return &GormOrderRepository{db: db}
}

// Create 幂等插入订单。主键冲突时保留已有行并返回成功，
// 并发的同号创建最多落库一行。
func (r *GormOrderRepository) Create(order *models.Order) error {
	if order == nil {
		return errors.New("order is nil")
	}
	return r.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "order_no"}},
		DoNothing: true,
	}).Create(order).Error
}

// GetByOrderNo 根据订单号获取订单，不存在返回 nil
func (r *GormOrderRepository) GetByOrderNo(orderNo string) (*models.Order, error) {
	var order models.Order
	if err := r.db.Where("order_no = ?", strings.TrimSpace(orderNo)).First(&order).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &order, nil
}

// UpdateStatus 应用一次渠道回调带来的状态迁移。
//
// 迁移关系：created -> {paid, failed, closed}，paid -> refunded。
// 条件更新保证并发回调下 paid_at 至多写入一次；不满足前置状态的写入
// 按无操作处理并返回当前记录（渠道重推同一通知时据此直接应答成功）。
func (r *GormOrderRepository) UpdateStatus(orderNo string, status string, providerTradeNo string) (*models.Order, error) {
	orderNo = strings.TrimSpace(orderNo)
	fromStatuses := transitionSources(status)
	if len(fromStatuses) > 0 {
		updates := map[string]interface{}{"status": status}
		if strings.TrimSpace(providerTradeNo) != "" {
			updates["provider_trade_no"] = strings.TrimSpace(providerTradeNo)
		}
		if status == constants.OrderStatusPaid {
			updates["paid_at"] = time.Now().UTC()
		}
		result := r.db.Model(&models.Order{}).
			Where("order_no = ? AND status IN ?", orderNo, fromStatuses).
			Updates(updates)
		if result.Error != nil {
			return nil, result.Error
		}
	}
	return r.GetByOrderNo(orderNo)
}

// transitionSources 返回目标状态允许的前置状态。created 目标没有合法
// 迁移来源（NOTPAY/USERPAYING 类通知不改状态）。
func transitionSources(status string) []string {
	switch status {
	case constants.OrderStatusPaid, constants.OrderStatusFailed, constants.OrderStatusClosed:
		return []string{constants.OrderStatusCreated}
	case constants.OrderStatusRefunded:
		return []string{constants.OrderStatusPaid}
	default:
		return nil
	}
}
