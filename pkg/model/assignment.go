// Package model 定义派单引擎的核心数据模型
package model

import (
	"time"

	"github.com/google/uuid"
)

// AssignmentStatus 导游分配状态
type AssignmentStatus string

const (
	AssignmentPending   AssignmentStatus = "pending"
	AssignmentConfirmed AssignmentStatus = "confirmed"
	AssignmentDeclined  AssignmentStatus = "declined"
)

// GuideAssignment 预订与导游的绑定
// GuideID 为空时表示外请导游，以姓名作为身份参与容量与冲突计算。
type GuideAssignment struct {
	BaseModel
	OrgID             uuid.UUID        `json:"org_id" db:"org_id"`
	BookingID         uuid.UUID        `json:"booking_id" db:"booking_id"`
	GuideID           *uuid.UUID       `json:"guide_id,omitempty" db:"guide_id"`
	OutsourcedName    string           `json:"outsourced_name,omitempty" db:"outsourced_name"`
	OutsourcedContact string           `json:"outsourced_contact,omitempty" db:"outsourced_contact"`
	Status            AssignmentStatus `json:"status" db:"status"`
	DeclineReason     string           `json:"decline_reason,omitempty" db:"decline_reason"`
	ConfirmedAt       *time.Time       `json:"confirmed_at,omitempty" db:"confirmed_at"`
	Source            string           `json:"source,omitempty" db:"source"`           // manual/optimizer/resolution
	GuestShare        int              `json:"guest_share,omitempty" db:"guest_share"` // 拆分预订时承接的游客数，0 表示整单
}

// IsOutsourced 检查是否为外请导游分配
func (a *GuideAssignment) IsOutsourced() bool {
	return a.GuideID == nil
}

// IsPending 检查分配是否待确认
func (a *GuideAssignment) IsPending() bool {
	return a.Status == AssignmentPending
}

// IsConfirmed 检查分配是否已确认
func (a *GuideAssignment) IsConfirmed() bool {
	return a.Status == AssignmentConfirmed
}

// GuideKey 返回导游身份键（在编按ID，外请按姓名）
// 同一导游在同一团次多个预订上的分配按该键去重计数。
func (a *GuideAssignment) GuideKey() string {
	if a.GuideID != nil {
		return a.GuideID.String()
	}
	return "ext:" + a.OutsourcedName
}

// GuideLabel 返回用于展示的导游名称键
func (a *GuideAssignment) GuideLabel() string {
	if a.GuideID != nil {
		return a.GuideID.String()
	}
	return a.OutsourcedName
}

// GuestsFor 返回该分配在容量与统计口径下实际承接的游客数
// total 为预订的全量游客数；未拆分的分配承接全量。
func (a *GuideAssignment) GuestsFor(total int) int {
	if a.GuestShare > 0 && a.GuestShare < total {
		return a.GuestShare
	}
	return total
}
